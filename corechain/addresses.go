package corechain

import (
	"os"

	"github.com/d4mr/coredrain/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// syncAddressFile loads the watched-address YAML file, upserts its entries
// as active, and deactivates addresses dropped since the previous sync.
// Cursors of re-declared addresses are preserved by the store, so editing
// the file never rewinds indexing history.
func (s *Service) syncAddressFile() error {
	content, err := os.ReadFile(s.cfg.AddressFile)
	if err != nil {
		return errors.Wrapf(err, "could not read watched address file %s", s.cfg.AddressFile)
	}
	var entries []string
	if err := yaml.Unmarshal(content, &entries); err != nil {
		return errors.Wrapf(err, "could not parse watched address file %s", s.cfg.AddressFile)
	}
	next := make(map[common.Address]struct{}, len(entries))
	for _, entry := range entries {
		if !common.IsHexAddress(entry) {
			log.WithField("entry", entry).Warn("Skipping malformed address in watched address file")
			continue
		}
		next[common.HexToAddress(entry)] = struct{}{}
	}

	for addr := range next {
		wa := &types.WatchedAddress{Address: addr, IsActive: true}
		if err := s.cfg.Database.SaveWatchedAddress(s.ctx, wa); err != nil {
			return errors.Wrapf(err, "could not save watched address %#x", addr)
		}
	}

	s.lock.Lock()
	previous := s.fileSet
	s.fileSet = next
	s.lock.Unlock()

	for addr := range previous {
		if _, keep := next[addr]; keep {
			continue
		}
		if err := s.cfg.Database.SetAddressActive(s.ctx, addr, false); err != nil {
			return errors.Wrapf(err, "could not deactivate watched address %#x", addr)
		}
		log.WithField("address", addr.Hex()).Info("Deactivated address dropped from watched address file")
	}
	log.WithFields(map[string]interface{}{
		"file":      s.cfg.AddressFile,
		"addresses": len(next),
	}).Info("Synced watched address file")
	return nil
}

// watchAddressFile re-syncs the fleet whenever the watched address file is
// written. Runs until the service context ends.
func (s *Service) watchAddressFile() {
	defer s.wg.Done()
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithError(err).Error("Could not initialize file watcher")
		return
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			log.WithError(err).Error("Could not close file watcher")
		}
	}()
	if err := watcher.Add(s.cfg.AddressFile); err != nil {
		log.WithError(err).Errorf("Could not add file %s to file watcher", s.cfg.AddressFile)
		return
	}
	for {
		select {
		case event := <-watcher.Events:
			if event.Op&fsnotify.Write != fsnotify.Write && event.Op&fsnotify.Create != fsnotify.Create {
				continue
			}
			log.WithField("file", event.Name).Info("Watched address file changed, re-syncing")
			if err := s.syncAddressFile(); err != nil {
				log.WithError(err).Error("Could not re-sync watched address file")
				continue
			}
			s.reconcile()
		case err := <-watcher.Errors:
			log.WithError(err).Errorf("Could not watch for file changes for: %s", s.cfg.AddressFile)
		case <-s.ctx.Done():
			return
		}
	}
}
