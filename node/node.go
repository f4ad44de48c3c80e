// Package node is the main service which launches the coredrain correlation
// engine and manages the lifecycle of all its associated services at runtime,
// such as the ledger indexer fleet and the matcher pool, gracefully closing
// them if the process ends.
package node

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/d4mr/coredrain/api/client/core"
	"github.com/d4mr/coredrain/assets"
	"github.com/d4mr/coredrain/backoff"
	"github.com/d4mr/coredrain/cmd/coredrain/flags"
	"github.com/d4mr/coredrain/config/params"
	"github.com/d4mr/coredrain/corechain"
	"github.com/d4mr/coredrain/db"
	"github.com/d4mr/coredrain/evmchain"
	"github.com/d4mr/coredrain/finder"
	"github.com/d4mr/coredrain/matcher"
	"github.com/d4mr/coredrain/monitoring/prometheus"
	"github.com/d4mr/coredrain/monitoring/tracing"
	"github.com/d4mr/coredrain/runtime"
	"github.com/d4mr/coredrain/runtime/version"
	"github.com/d4mr/coredrain/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var log = logrus.WithField("prefix", "node")

// Node handles the services running the coredrain correlation engine. It
// manages the lifecycle of the entire system and registers services to a
// service registry.
type Node struct {
	cliCtx      *cli.Context
	ctx         context.Context
	cancel      context.CancelFunc
	services    *runtime.ServiceRegistry
	lock        sync.RWMutex
	stop        chan struct{} // Channel to wait for termination notifications.
	db          db.Database
	coordinator *backoff.Coordinator
	coreClient  *core.Client
	assetCache  *assets.Cache
}

// New creates a new node instance, sets up configuration options, and
// registers every required service to the node.
func New(cliCtx *cli.Context) (*Node, error) {
	processName := cliCtx.String(flags.TracingProcessNameFlag.Name)
	if processName == "" {
		processName = "coredrain"
	}
	if err := tracing.Setup(
		processName,
		cliCtx.String(flags.TracingEndpointFlag.Name),
		cliCtx.Float64(flags.TraceSampleFractionFlag.Name),
		cliCtx.Bool(flags.EnableTracingFlag.Name),
	); err != nil {
		return nil, err
	}

	configureBridge(cliCtx)

	registry := runtime.NewServiceRegistry()
	ctx, cancel := context.WithCancel(cliCtx.Context)
	node := &Node{
		cliCtx:      cliCtx,
		ctx:         ctx,
		cancel:      cancel,
		services:    registry,
		stop:        make(chan struct{}),
		coordinator: backoff.NewCoordinator(),
	}

	if err := node.startDB(cliCtx); err != nil {
		return nil, err
	}

	if err := node.startAssetCache(cliCtx); err != nil {
		return nil, err
	}

	if err := node.seedWatchedAddresses(cliCtx); err != nil {
		return nil, err
	}

	if err := node.registerMatcherService(cliCtx); err != nil {
		return nil, err
	}

	if err := node.registerIndexerService(cliCtx); err != nil {
		return nil, err
	}

	if !cliCtx.Bool(flags.DisableMonitoringFlag.Name) {
		if err := node.registerPrometheusService(cliCtx); err != nil {
			return nil, err
		}
	}

	return node, nil
}

// configureBridge folds command line overrides into the process-wide bridge
// configuration before any service reads it.
func configureBridge(cliCtx *cli.Context) {
	c := params.BridgeConfig().Copy()
	if cliCtx.IsSet(flags.ChainIDFlag.Name) {
		c.ChainID = cliCtx.Uint64(flags.ChainIDFlag.Name)
	}
	if cliCtx.IsSet(flags.CoreIndexerPollFlag.Name) {
		c.CoreIndexerPoll = cliCtx.Duration(flags.CoreIndexerPollFlag.Name)
	}
	if cliCtx.IsSet(flags.MatcherBatchSizeFlag.Name) {
		c.MatcherBatchSize = cliCtx.Int(flags.MatcherBatchSizeFlag.Name)
	}
	if cliCtx.IsSet(flags.MatcherConcurrencyFlag.Name) {
		c.MatcherConcurrency = cliCtx.Int(flags.MatcherConcurrencyFlag.Name)
	}
	if cliCtx.IsSet(flags.MatcherQueueSizeFlag.Name) {
		c.QueueSize = cliCtx.Int(flags.MatcherQueueSizeFlag.Name)
	}
	if cliCtx.IsSet(flags.MatcherLowWatermarkFlag.Name) {
		c.LowWatermark = cliCtx.Int(flags.MatcherLowWatermarkFlag.Name)
	}
	if cliCtx.IsSet(flags.RPCMaxBatchFlag.Name) {
		c.MaxRPCBatch = cliCtx.Int(flags.RPCMaxBatchFlag.Name)
	}
	if cliCtx.IsSet(flags.BackfillThresholdFlag.Name) {
		c.BackfillThreshold = cliCtx.Int(flags.BackfillThresholdFlag.Name)
	}
	if cliCtx.IsSet(flags.ObjectStoreExtFlag.Name) {
		c.ObjectStoreExt = cliCtx.String(flags.ObjectStoreExtFlag.Name)
	}
	params.OverrideBridgeConfig(c)
}

// Start the Node and kicks off every registered service.
func (n *Node) Start() {
	n.lock.Lock()

	log.WithFields(logrus.Fields{
		"version": version.GetVersion(),
	}).Info("Starting coredrain node")

	n.services.StartAll()

	stop := n.stop
	n.lock.Unlock()

	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigc)
		<-sigc
		log.Info("Got interrupt, shutting down...")
		go n.Close()
		for i := 10; i > 0; i-- {
			<-sigc
			if i > 1 {
				log.WithField("times", i-1).Info("Already shutting down, interrupt more to panic")
			}
		}
		panic("Panic closing the coredrain node")
	}()

	// Wait for stop channel to be closed.
	<-stop
}

// Close handles graceful shutdown of the system.
func (n *Node) Close() {
	n.lock.Lock()
	defer n.lock.Unlock()

	log.Info("Stopping coredrain node")
	n.services.StopAll()
	if err := n.db.Close(); err != nil {
		log.Errorf("Failed to close database: %v", err)
	}
	n.cancel()
	close(n.stop)
}

func (n *Node) startDB(cliCtx *cli.Context) error {
	baseDir := cliCtx.String(flags.DataDirFlag.Name)
	if baseDir == "" {
		return errors.New("could not determine your system's HOME path, please specify a --datadir")
	}

	log.WithField("databasePath", baseDir).Info("Checking DB")
	d, err := db.NewDB(n.ctx, baseDir)
	if err != nil {
		return err
	}
	if cliCtx.Bool(flags.ForceClearDB.Name) {
		log.Warning("Removing database")
		if err := d.Close(); err != nil {
			return errors.Wrap(err, "could not close db prior to clearing")
		}
		if err := d.ClearDB(); err != nil {
			return errors.Wrap(err, "could not clear database")
		}
		d, err = db.NewDB(n.ctx, baseDir)
		if err != nil {
			return errors.Wrap(err, "could not create new database")
		}
	}
	n.db = d
	return nil
}

// startAssetCache dials the CORE api and loads the spot asset metadata the
// finder scales amounts with. A node that cannot resolve assets would fail
// every match, so an unreachable api aborts startup.
func (n *Node) startAssetCache(cliCtx *cli.Context) error {
	coreClient, err := core.NewClient(cliCtx.String(flags.CoreAPIEndpointFlag.Name))
	if err != nil {
		return errors.Wrap(err, "could not create CORE api client")
	}
	n.coreClient = coreClient
	n.assetCache = assets.NewCache(coreClient)
	if err := n.assetCache.Populate(n.ctx); err != nil {
		return errors.Wrap(err, "could not load asset metadata")
	}
	return nil
}

// seedWatchedAddresses persists addresses named on the command line. Already
// known addresses keep their indexing cursor and are merely reactivated.
func (n *Node) seedWatchedAddresses(cliCtx *cli.Context) error {
	for _, raw := range cliCtx.StringSlice(flags.WatchedAddressFlag.Name) {
		if !common.IsHexAddress(raw) {
			return errors.Errorf("invalid watched address %q", raw)
		}
		addr := common.HexToAddress(raw)
		if err := n.db.SaveWatchedAddress(n.ctx, &types.WatchedAddress{Address: addr, IsActive: true}); err != nil {
			return errors.Wrapf(err, "could not save watched address %#x", addr)
		}
		log.WithField("address", addr.Hex()).Info("Watching address")
	}
	return nil
}

func (n *Node) registerMatcherService(cliCtx *cli.Context) error {
	rpcFetcher, err := evmchain.NewRPCFetcher(n.ctx, cliCtx.String(flags.EVMRPCEndpointFlag.Name), n.coordinator)
	if err != nil {
		return errors.Wrap(err, "could not connect to the EVM rpc endpoint")
	}

	opts := []matcher.Option{
		matcher.WithDatabase(n.db),
		matcher.WithFinder(finder.New(n.assetCache, finder.NewAnchorIndex(n.db))),
		matcher.WithRPCFetcher(rpcFetcher),
	}
	if bucket := cliCtx.String(flags.ObjectStoreBucketFlag.Name); bucket != "" {
		client, err := n.objectStoreClient(cliCtx)
		if err != nil {
			return err
		}
		opts = append(opts, matcher.WithObjectStoreFetcher(
			evmchain.NewObjectStoreFetcher(client, bucket, n.coordinator),
		))
		log.WithField("bucket", bucket).Info("Backfill reads archived blocks from the object store")
	}

	svc, err := matcher.New(n.ctx, opts...)
	if err != nil {
		return errors.Wrap(err, "could not register matcher service")
	}
	return n.services.RegisterService(svc)
}

func (n *Node) registerIndexerService(cliCtx *cli.Context) error {
	svc, err := corechain.New(n.ctx, &corechain.Config{
		Database:    n.db,
		Client:      n.coreClient,
		Coordinator: n.coordinator,
		AddressFile: cliCtx.String(flags.WatchedAddressesFileFlag.Name),
	})
	if err != nil {
		return errors.Wrap(err, "could not register ledger indexer service")
	}
	return n.services.RegisterService(svc)
}

func (n *Node) registerPrometheusService(cliCtx *cli.Context) error {
	service := prometheus.NewService(
		fmt.Sprintf("%s:%d", cliCtx.String(flags.MonitoringHostFlag.Name), cliCtx.Int(flags.MonitoringPortFlag.Name)),
		n.services,
	)
	hook := prometheus.NewLogrusCollector()
	logrus.AddHook(hook)
	return n.services.RegisterService(service)
}

// objectStoreClient resolves credentials through the default chain so IAM
// roles, env vars, and shared config all work, honoring a custom endpoint
// for S3-compatible stores.
func (n *Node) objectStoreClient(cliCtx *cli.Context) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(n.ctx,
		awsconfig.WithRegion(cliCtx.String(flags.ObjectStoreRegionFlag.Name)),
	)
	if err != nil {
		return nil, errors.Wrap(err, "could not load object store configuration")
	}
	endpoint := cliCtx.String(flags.ObjectStoreEndpointFlag.Name)
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}
