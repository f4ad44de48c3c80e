package matcher

import (
	"github.com/d4mr/coredrain/db"
	"github.com/d4mr/coredrain/evmchain"
)

// Option configures the matcher service.
type Option func(s *Service) error

// WithDatabase sets the transfer store the pool drains.
func WithDatabase(database db.Database) Option {
	return func(s *Service) error {
		s.cfg.database = database
		return nil
	}
}

// WithFinder sets the search engine run for every transfer.
func WithFinder(f TransferFinder) Option {
	return func(s *Service) error {
		s.cfg.finder = f
		return nil
	}
}

// WithRPCFetcher sets the free JSON-RPC block provider, the steady-state
// choice.
func WithRPCFetcher(f evmchain.BlockFetcher) Option {
	return func(s *Service) error {
		s.cfg.rpcFetcher = f
		return nil
	}
}

// WithObjectStoreFetcher sets the paid archive provider engaged while the
// pending backlog exceeds the backfill threshold.
func WithObjectStoreFetcher(f evmchain.BlockFetcher) Option {
	return func(s *Service) error {
		s.cfg.objectFetcher = f
		return nil
	}
}
