package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/kanari-network/kanarinode/internal/da/submit"
	"github.com/kanari-network/kanarinode/internal/repair"
	"github.com/kanari-network/kanarinode/pkg/utils"
)

// manifest records how `da pack` sliced a set of source files into
// fixed-size segment files, so `da unpack` can restore the original
// boundaries and `da verify` can detect corruption.
type manifest struct {
	Segments []manifestSegment `json:"segments"`
}

type manifestSegment struct {
	File     string `json:"file"`
	SHA256   string `json:"sha256"`
	Size     int    `json:"size"`
	SrcFile  string `json:"src_file"`
	SrcStart int64  `json:"src_start"`
}

const manifestFileName = "manifest.json"

func newDACmd() *cobra.Command {
	cmd := &cobra.Command{Use: "da", Short: "data-availability segment utilities"}
	cmd.AddCommand(newDAPackCmd())
	cmd.AddCommand(newDAUnpackCmd())
	cmd.AddCommand(newDAVerifyCmd())
	cmd.AddCommand(newDAExecCmd())
	cmd.AddCommand(newDAFindFirstCmd())
	cmd.AddCommand(newDANamespaceCmd())
	cmd.AddCommand(newDARepairCmd())
	cmd.AddCommand(newDAIndexCmd())
	return cmd
}

func newDAPackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pack <src-dir> <out-dir>",
		Short: "split source files into MaxSegmentSize-bounded segment files",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return daPack(args[0], args[1])
		},
	}
}

func daPack(srcDir, outDir string) error {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return fmt.Errorf("read src dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create out dir: %w", err)
	}

	var man manifest
	segIdx := 0
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(srcDir, name))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		for off := 0; off < len(data) || (len(data) == 0 && off == 0); off += submit.MaxSegmentSize {
			end := off + submit.MaxSegmentSize
			if end > len(data) {
				end = len(data)
			}
			chunk := data[off:end]
			segName := fmt.Sprintf("segment-%06d.bin", segIdx)
			if err := os.WriteFile(filepath.Join(outDir, segName), chunk, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", segName, err)
			}
			sum := sha256.Sum256(chunk)
			man.Segments = append(man.Segments, manifestSegment{
				File: segName, SHA256: hex.EncodeToString(sum[:]), Size: len(chunk),
				SrcFile: name, SrcStart: int64(off),
			})
			segIdx++
			if len(data) == 0 {
				break
			}
		}
	}
	return writeManifest(outDir, man)
}

func writeManifest(dir string, man manifest) error {
	data, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, manifestFileName), data, 0o644)
}

func readManifest(dir string) (manifest, error) {
	var man manifest
	data, err := os.ReadFile(filepath.Join(dir, manifestFileName))
	if err != nil {
		return man, fmt.Errorf("read manifest: %w", err)
	}
	if err := json.Unmarshal(data, &man); err != nil {
		return man, fmt.Errorf("decode manifest: %w", err)
	}
	return man, nil
}

func newDAUnpackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unpack <segment-dir> <out-dir>",
		Short: "reassemble source files from segments packed by `da pack`",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return daUnpack(args[0], args[1])
		},
	}
}

func daUnpack(segDir, outDir string) error {
	man, err := readManifest(segDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create out dir: %w", err)
	}

	files := map[string]*os.File{}
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()
	for _, seg := range man.Segments {
		f, ok := files[seg.SrcFile]
		if !ok {
			f, err = os.Create(filepath.Join(outDir, seg.SrcFile))
			if err != nil {
				return fmt.Errorf("create %s: %w", seg.SrcFile, err)
			}
			files[seg.SrcFile] = f
		}
		data, err := os.ReadFile(filepath.Join(segDir, seg.File))
		if err != nil {
			return fmt.Errorf("read %s: %w", seg.File, err)
		}
		if _, err := f.WriteAt(data, seg.SrcStart); err != nil {
			return fmt.Errorf("write %s: %w", seg.SrcFile, err)
		}
	}
	return nil
}

func newDAVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <segment-dir>",
		Short: "recompute each segment's checksum against the manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			man, err := readManifest(args[0])
			if err != nil {
				return err
			}
			bad := 0
			for _, seg := range man.Segments {
				data, err := os.ReadFile(filepath.Join(args[0], seg.File))
				if err != nil {
					return fmt.Errorf("read %s: %w", seg.File, err)
				}
				sum := sha256.Sum256(data)
				if hex.EncodeToString(sum[:]) != seg.SHA256 || len(data) != seg.Size {
					fmt.Printf("MISMATCH %s\n", seg.File)
					bad++
					continue
				}
				fmt.Printf("ok %s\n", seg.File)
			}
			if bad > 0 {
				return fmt.Errorf("%d segment(s) failed verification", bad)
			}
			return nil
		},
	}
}

func newDAExecCmd() *cobra.Command {
	var turboEndpoint, turboAPIKey, lightEndpoint string
	var rateLimit, maxRetry int
	cmd := &cobra.Command{
		Use:   "exec <segment-dir>",
		Short: "submit every segment in a packed directory to the DA backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if turboEndpoint == "" {
				turboEndpoint = cfg.DA.TurboEndpoint
			}
			if turboAPIKey == "" {
				turboAPIKey = cfg.DA.TurboAPIKey
			}
			if lightEndpoint == "" {
				lightEndpoint = cfg.DA.LightEndpoint
			}
			if rateLimit == 0 {
				rateLimit = cfg.DA.RatePerMinute
			}
			if maxRetry == 0 {
				maxRetry = cfg.DA.MaxTurboRetry
			}
			client := submit.New(
				&http.Client{Timeout: 30 * time.Second},
				submit.Endpoint{URL: turboEndpoint, APIKey: turboAPIKey},
				submit.Endpoint{URL: lightEndpoint, WireJSON: true},
				rateLimit, maxRetry,
			)

			man, err := readManifest(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			for _, seg := range man.Segments {
				data, err := os.ReadFile(filepath.Join(args[0], seg.File))
				if err != nil {
					return fmt.Errorf("read %s: %w", seg.File, err)
				}
				res, err := client.Submit(ctx, submit.NewSegment(data))
				if err != nil {
					return fmt.Errorf("submit %s: %w", seg.File, err)
				}
				fmt.Printf("%s -> batch_hash=%s\n", seg.File, res.BatchHash)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&turboEndpoint, "turbo-endpoint", "", "override the configured turbo DA endpoint")
	cmd.Flags().StringVar(&turboAPIKey, "turbo-api-key", "", "override the configured turbo DA api key")
	cmd.Flags().StringVar(&lightEndpoint, "light-endpoint", "", "override the configured light DA endpoint")
	cmd.Flags().IntVar(&rateLimit, "rate-per-minute", 0, "override the configured submission rate limit")
	cmd.Flags().IntVar(&maxRetry, "max-turbo-retry", 0, "override the configured turbo retry budget")
	return cmd
}

func newDAFindFirstCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "find-first",
		Short: "print the first DA block not yet marked done",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			h, err := openStoreHandles(cfg)
			if err != nil {
				return err
			}
			defer h.close()

			last, err := h.daMS.GetLastBlockNumber()
			if err != nil {
				return err
			}
			if last == nil {
				fmt.Println("no DA blocks recorded")
				return nil
			}
			for n := uint64(0); n <= *last; n++ {
				state, err := h.daMS.GetBlockState(n)
				if err != nil {
					return err
				}
				if state == nil || !state.Done {
					fmt.Printf("first unsubmitted block: %d\n", n)
					return nil
				}
			}
			fmt.Println("all blocks submitted")
			return nil
		},
	}
}

func newDANamespaceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "namespace",
		Short: "print the configured DA submission endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fmt.Printf("turbo: %s\nlight: %s\nrate_per_minute: %d\nmax_turbo_retry: %d\n",
				cfg.DA.TurboEndpoint, cfg.DA.LightEndpoint, cfg.DA.RatePerMinute, cfg.DA.MaxTurboRetry)
			return nil
		},
	}
}

func newDARepairCmd() *cobra.Command {
	var thorough, fastFail, syncMode bool
	var minBlock uint64
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "run the DA-meta and execution-contiguity consistency check",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			h, err := openStoreHandles(cfg)
			if err != nil {
				return err
			}
			defer h.close()

			reprStore := repair.New(h.db, h.meta, h.txs, h.daMS, h.index)
			var minBlockPtr *uint64
			if cmd.Flags().Changed("da-min-block") {
				minBlockPtr = &minBlock
			}
			report, err := reprStore.Repair(cmd.Context(), thorough, fastFail, syncMode, minBlockPtr)
			if err != nil {
				return err
			}
			fmt.Printf("issues=%d fixed=%d\n", report.Issues, report.Fixed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&thorough, "thorough", false, "also run the execution-info contiguity check")
	cmd.Flags().BoolVar(&fastFail, "fast-fail", false, "stop at the first illegal DA block instead of repairing past it")
	cmd.Flags().BoolVar(&syncMode, "sync-mode", false, "skip DA block repair (block checks are neither run nor reported)")
	cmd.Flags().Uint64Var(&minBlock, "da-min-block", 0, "minimum block number the DA backend will still accept")
	return cmd
}

func newDAIndexCmd() *cobra.Command {
	var from, to uint64
	cmd := &cobra.Command{
		Use:   "index",
		Short: "replay a tx_order range from the transaction store into the indexer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			h, err := openStoreHandles(cfg)
			if err != nil {
				return err
			}
			defer h.close()

			ctx := cmd.Context()
			n := 0
			for order := from; order <= to; order++ {
				hash, err := h.txs.GetTxHashByOrder(order)
				if err != nil {
					return fmt.Errorf("order %d: %w", order, err)
				}
				if hash == nil {
					continue
				}
				tx, err := h.txs.GetTransactionByHash(*hash)
				if err != nil || tx == nil {
					return fmt.Errorf("order %d: load tx: %w", order, err)
				}
				info, err := h.txs.GetExecutionInfo(*hash)
				if err != nil || info == nil {
					return fmt.Errorf("order %d: load execution info: %w", order, err)
				}
				set, err := h.txs.GetStateChangeSet(order)
				if err != nil || set == nil {
					return fmt.Errorf("order %d: load change set: %w", order, err)
				}
				if err := h.index.IndexTransaction(ctx, *tx, *info, *set); err != nil {
					return fmt.Errorf("order %d: index: %w", order, err)
				}
				n++
			}
			fmt.Printf("reindexed %d transaction(s)\n", n)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&from, "from", utils.EnvOrDefaultUint64("KANARINODE_INDEX_FROM", 1), "first tx_order to reindex (inclusive)")
	cmd.Flags().Uint64Var(&to, "to", 0, "last tx_order to reindex (inclusive)")
	return cmd
}
