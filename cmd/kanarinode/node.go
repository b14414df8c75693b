package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/kanari-network/kanarinode/internal/da"
	"github.com/kanari-network/kanarinode/internal/da/submit"
	"github.com/kanari-network/kanarinode/internal/executor"
	"github.com/kanari-network/kanarinode/internal/indexer"
	"github.com/kanari-network/kanarinode/internal/kv/memdb"
	"github.com/kanari-network/kanarinode/internal/metrics"
	"github.com/kanari-network/kanarinode/internal/nodeconfig"
	"github.com/kanari-network/kanarinode/internal/pipeline"
	"github.com/kanari-network/kanarinode/internal/repair"
	"github.com/kanari-network/kanarinode/internal/sequencer"
	"github.com/kanari-network/kanarinode/internal/store"
	"github.com/kanari-network/kanarinode/internal/types"
	"github.com/kanari-network/kanarinode/internal/vmbridge"
)

// node is the fully wired set of components one "server start" invocation
// owns, assembled the way the teacher's cmd binaries hold a handful of
// package-level service vars (see cmd/cli/master_node.go's ensureMaster),
// collected here into one struct instead since this binary has no shared
// CLI-global state across invocations.
type node struct {
	cfg *nodeconfig.Config
	db  *memdb.DB

	registry *prometheus.Registry

	meta  *store.MetaStore
	txs   *store.TransactionStore
	daMS  *da.MetaStore
	daEng *da.Engine

	seq    *sequencer.Sequencer
	vm     *vmbridge.Client
	exec   *executor.Executor
	proc   *pipeline.Processor
	repr   *repair.Store
	index  *indexer.Store
	submit *submit.Client
}

// openDB opens (creating if absent) the node's kv store at
// <cfg.Store.Path>/kanari.wal.
func openDB(cfg *nodeconfig.Config) (*memdb.DB, error) {
	if err := os.MkdirAll(cfg.Store.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	walPath := filepath.Join(cfg.Store.Path, "kanari.wal")
	db, err := memdb.Open(walPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return db, nil
}

// loadSequencerKey decodes cfg.Sequencer.PrivateKeyHex into an ed25519 key,
// accepting either a 32-byte seed or a 64-byte expanded key, or generates
// an ephemeral one for a fresh local network when none is configured.
func loadSequencerKey(cfg *nodeconfig.Config) (ed25519.PrivateKey, error) {
	if cfg.Sequencer.PrivateKeyHex == "" {
		_, priv, err := ed25519.GenerateKey(nil)
		if err != nil {
			return nil, fmt.Errorf("generate sequencer key: %w", err)
		}
		logrus.Warn("no sequencer.private_key_hex configured; generated an ephemeral key for this run")
		return priv, nil
	}
	raw, err := hex.DecodeString(cfg.Sequencer.PrivateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decode sequencer private key: %w", err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, fmt.Errorf("sequencer private key must be %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
}

// bootstrapNode opens the store, runs genesis if needed, and wires every
// component together following the dependency order spec.md §2 lists
// leaves-first: kv -> store -> sequencer/executor -> pipeline -> da/repair
// /indexer.
func bootstrapNode(ctx context.Context, cfg *nodeconfig.Config) (*node, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	if err := ensureGenesis(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("genesis: %w", err)
	}

	reg := metrics.NewRegistry()

	meta := store.NewMetaStore(db)
	txs := store.NewTransactionStore(db)

	key, err := loadSequencerKey(cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	pub := key.Public().(ed25519.PublicKey)
	sequencerAddr := types.Address(types.HashBytes(pub))

	seq, err := sequencer.New(db, key, sequencerAddr, types.ServiceActive)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sequencer: %w", err)
	}

	vmClient, err := vmbridge.DialWithOptions(cfg.Executor.VMEndpoint, vmbridge.NewJSONEngine, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("dial vm: %w", err)
	}

	startup, err := meta.GetStartupInfo()
	if err != nil {
		_ = vmClient.Close()
		_ = db.Close()
		return nil, fmt.Errorf("load startup info: %w", err)
	}
	root := types.PlaceholderHash
	if startup != nil {
		root = startup.StateRoot
	}
	execMetrics := executor.NewMetrics(reg)
	exec, err := executor.New(db, vmClient.Engine, root, execMetrics, cfg.Executor.SMTCacheSize)
	if err != nil {
		_ = vmClient.Close()
		_ = db.Close()
		return nil, fmt.Errorf("executor: %w", err)
	}

	daMS := da.NewMetaStore(db)
	daEng := da.NewEngine(daMS, cfg.DA.MaxBlockTxs)

	submitClient := submit.New(
		&http.Client{Timeout: 30 * time.Second},
		submit.Endpoint{URL: cfg.DA.TurboEndpoint, APIKey: cfg.DA.TurboAPIKey},
		submit.Endpoint{URL: cfg.DA.LightEndpoint, WireJSON: true},
		cfg.DA.RatePerMinute,
		cfg.DA.MaxTurboRetry,
	)
	idx, err := indexer.Open(cfg.Indexer.DSN)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open indexer: %w", err)
	}

	proc := pipeline.New(ctx, seq, exec, txs, daEng, idx, rlpCodec{})

	reprStore := repair.New(db, meta, txs, daMS, idx)
	reprStore.SetServiceStatusNotifier(proc.Bus())

	go seq.Run(ctx)

	return &node{
		cfg:      cfg,
		db:       db,
		registry: reg,
		meta:     meta,
		txs:      txs,
		daMS:     daMS,
		daEng:    daEng,
		seq:      seq,
		vm:       vmClient,
		exec:     exec,
		proc:     proc,
		repr:     reprStore,
		index:    idx,
		submit:   submitClient,
	}, nil
}

// storeHandles is the subset of a node's components the `da` utility
// commands need: direct store/DA access without dialing the VM or
// starting the sequencer's worker goroutine.
type storeHandles struct {
	db    *memdb.DB
	meta  *store.MetaStore
	txs   *store.TransactionStore
	daMS  *da.MetaStore
	index *indexer.Store
}

// openStoreHandles opens the kv store and its typed accessors without
// booting the sequencer, VM connection or pipeline, for CLI subcommands
// that inspect or repair on-disk state rather than run the node.
func openStoreHandles(cfg *nodeconfig.Config) (*storeHandles, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	idx, err := indexer.Open(cfg.Indexer.DSN)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open indexer: %w", err)
	}
	return &storeHandles{
		db:    db,
		meta:  store.NewMetaStore(db),
		txs:   store.NewTransactionStore(db),
		daMS:  da.NewMetaStore(db),
		index: idx,
	}, nil
}

func (h *storeHandles) close() error {
	if err := h.index.Close(); err != nil {
		logrus.WithError(err).Error("close indexer")
	}
	return h.db.Close()
}

// close tears down the node's resources in reverse dependency order.
func (n *node) close() error {
	if err := n.daEng.CloseOpenBlock(); err != nil {
		logrus.WithError(err).Error("close open DA block range")
	}
	if err := n.proc.Wait(); err != nil {
		logrus.WithError(err).Error("wait for pipeline fan-out")
	}
	if err := n.index.Close(); err != nil {
		logrus.WithError(err).Error("close indexer")
	}
	if err := n.vm.Close(); err != nil {
		logrus.WithError(err).Error("close vm connection")
	}
	return n.db.Close()
}
