// Package corechain ingests outgoing asset-bridge transfers from the CORE
// trading ledger. One worker per watched address tails that account's ledger
// history and persists pending transfers; a controller keeps the worker
// fleet aligned with the durable watched-address set, which can be edited at
// runtime through a YAML file.
package corechain

import (
	"context"
	"sync"

	"github.com/d4mr/coredrain/api/client/core"
	"github.com/d4mr/coredrain/async"
	"github.com/d4mr/coredrain/backoff"
	"github.com/d4mr/coredrain/config/params"
	"github.com/d4mr/coredrain/db"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "corechain")

// LedgerProvider is the slice of the CORE info API the indexer fleet
// consumes.
type LedgerProvider interface {
	LedgerUpdates(ctx context.Context, user common.Address, startTime uint64) ([]core.LedgerUpdate, error)
}

// Config holds the dependencies of the indexer fleet.
type Config struct {
	Database    db.Database
	Client      LedgerProvider
	Coordinator *backoff.Coordinator
	AddressFile string // optional YAML list of watched addresses
}

// Service runs the indexer fleet.
type Service struct {
	cfg    *Config
	ctx    context.Context
	cancel context.CancelFunc

	lock    sync.Mutex
	workers map[common.Address]context.CancelFunc
	fileSet map[common.Address]struct{} // addresses from the last file sync

	wg       sync.WaitGroup
	runError error
}

// New validates the fleet dependencies.
func New(ctx context.Context, cfg *Config) (*Service, error) {
	if cfg.Database == nil {
		return nil, errors.New("corechain requires a database")
	}
	if cfg.Client == nil {
		return nil, errors.New("corechain requires a ledger provider")
	}
	if cfg.Coordinator == nil {
		return nil, errors.New("corechain requires a backoff coordinator")
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Service{
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		workers: map[common.Address]context.CancelFunc{},
	}, nil
}

// Start syncs the optional address file, spins up workers for every active
// watched address, and keeps reconciling periodically.
func (s *Service) Start() {
	if s.cfg.AddressFile != "" {
		if err := s.syncAddressFile(); err != nil {
			s.runError = err
			log.WithError(err).Error("Could not load watched address file")
		}
		s.wg.Add(1)
		go s.watchAddressFile()
	}
	s.reconcile()
	async.RunEvery(s.ctx, params.BridgeConfig().ReconcileInterval, s.reconcile)
	log.Info("Indexer fleet started")
}

// Stop cancels every worker and waits for them to exit.
func (s *Service) Stop() error {
	s.cancel()
	s.wg.Wait()
	return nil
}

// Status reports a failed address-file load; worker-level trouble is retried
// in place and surfaces through logs and metrics instead.
func (s *Service) Status() error {
	return s.runError
}

// reconcile aligns the running workers with the durable watched-address set:
// newly-active addresses get a worker, deactivated ones lose theirs.
func (s *Service) reconcile() {
	addrs, err := s.cfg.Database.WatchedAddresses(s.ctx)
	if err != nil {
		log.WithError(err).Error("Could not list watched addresses")
		return
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	active := make(map[common.Address]bool, len(addrs))
	for _, wa := range addrs {
		if !wa.IsActive {
			continue
		}
		active[wa.Address] = true
		if _, running := s.workers[wa.Address]; running {
			continue
		}
		ctx, cancel := context.WithCancel(s.ctx)
		s.workers[wa.Address] = cancel
		w := s.newWorker(wa)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			w.run(ctx)
		}()
		log.WithFields(logrus.Fields{
			"address": wa.Address.Hex(),
			"cursor":  wa.LastIndexedTime,
		}).Info("Started ledger indexer")
	}
	for addr, cancel := range s.workers {
		if active[addr] {
			continue
		}
		cancel()
		delete(s.workers, addr)
		log.WithField("address", addr.Hex()).Info("Stopped ledger indexer for deactivated address")
	}
	activeWorkers.Set(float64(len(s.workers)))
}

// workerCount reports the running fleet size.
func (s *Service) workerCount() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.workers)
}
