package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"

	"VKMBot/core/audio"
	"VKMBot/core/utils"
	"VKMBot/logger"
	"VKMBot/model"
	"VKMBot/pipeline"
	"VKMBot/quota"
)

var (
	searchQuery  string
	searchOutDir string
	searchUserID int64
	searchUseDB  bool
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search and download tracks interactively from the terminal",
	Long: `Runs the same search, quota and download pipeline as the server, with the
terminal as the transport. Selected tracks are copied into --out.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return runSearch(ctx, os.Stdin, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().StringVarP(&searchQuery, "query", "q", "", "first query to run")
	searchCmd.Flags().StringVarP(&searchOutDir, "out", "o", ".", "directory to save tracks into")
	searchCmd.Flags().Int64VarP(&searchUserID, "user", "u", 1, "user id the quota is charged to")
	searchCmd.Flags().BoolVar(&searchUseDB, "db", false, "keep quota in the configured database instead of memory")

	searchCmd.Example = `  # search interactively, saving into ./music
  vkmbot search -o music

  # start with a query and charge user 42 in the database
  vkmbot search -q "kino gruppa krovi" -u 42 --db`
}

func runSearch(ctx context.Context, in io.Reader, out io.Writer) error {
	cfg := mustLoadConfig()
	defer logger.Sync()

	if err := os.MkdirAll(searchOutDir, 0755); err != nil {
		return err
	}
	store, closeStore, err := newQuotaStore(cfg, searchUseDB)
	if err != nil {
		return err
	}
	defer closeStore()
	results, closeCache, err := newResultCache(ctx, cfg, "memory")
	if err != nil {
		return err
	}
	defer closeCache()

	processor := audio.NewFFmpegProcessor(cfg.FFmpegPath, cfg.FFprobePath)
	plugins := newPluginManager(cfg, processor)
	executor := newExecutor(cfg, plugins, processor)
	presenter := newTerminalPresenter(out, searchOutDir)
	coordinator := newCoordinator(cfg, plugins, results,
		quota.NewManager(store, cfg.FreeDailyLimit, cfg.PremiumDailyLimit), executor, presenter)

	scanner := bufio.NewScanner(in)
	query := searchQuery
	for ctx.Err() == nil {
		if query == "" {
			fmt.Fprint(out, "\nSearch (empty line to quit): ")
			if !scanner.Scan() {
				return scanner.Err()
			}
			query = strings.TrimSpace(scanner.Text())
			if query == "" {
				return nil
			}
		}

		err := coordinator.OnQuery(ctx, searchUserID, query)
		query = ""
		if err != nil || presenter.lastCount() == 0 {
			continue
		}

		fmt.Fprintf(out, "Pick a number (1-%d), or press enter to search again: ", presenter.lastCount())
		if !scanner.Scan() {
			return scanner.Err()
		}
		choice := strings.TrimSpace(scanner.Text())
		if choice == "" {
			continue
		}
		n, convErr := strconv.Atoi(choice)
		if convErr != nil {
			fmt.Fprintln(out, "Not a number.")
			continue
		}
		if err := coordinator.OnSelect(ctx, searchUserID, n-1); err != nil && errors.Is(err, context.Canceled) {
			return nil
		}
	}
	return nil
}

// terminalPresenter prints pipeline output and saves delivered files.
type terminalPresenter struct {
	out    io.Writer
	outDir string

	mu    sync.Mutex
	count int
	bar   *pb.ProgressBar
	job   string
}

func newTerminalPresenter(out io.Writer, outDir string) *terminalPresenter {
	return &terminalPresenter{out: out, outDir: outDir}
}

func (p *terminalPresenter) lastCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

func (p *terminalPresenter) PresentCandidates(_ context.Context, _ int64, candidates []pipeline.CandidateView) error {
	p.mu.Lock()
	p.count = len(candidates)
	p.mu.Unlock()

	for _, c := range candidates {
		fmt.Fprintf(p.out, "%2d. %s [%s] - %s\n", c.Index+1, c.Title, c.Duration, c.Uploader)
	}
	return nil
}

func (p *terminalPresenter) PresentStatus(_ context.Context, _ int64, status pipeline.Status) error {
	p.finishBar()
	fmt.Fprintln(p.out, status.Text)
	return nil
}

func (p *terminalPresenter) PresentProgress(_ context.Context, _ int64, progress pipeline.Progress) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar == nil || p.job != progress.JobID {
		if p.bar != nil {
			p.bar.Finish()
		}
		tmpl := `{{string . "prefix"}}{{counters . }} {{bar . }} {{percent . }} {{speed . }}`
		p.bar = pb.ProgressBarTemplate(tmpl).New(0)
		p.bar.SetWriter(p.out)
		p.bar.Set(pb.Bytes, true)
		p.bar.Set("prefix", "Downloading: ")
		p.bar.Start()
		p.job = progress.JobID
	}
	if progress.Total > 0 {
		p.bar.SetTotal(progress.Total)
	}
	p.bar.SetCurrent(progress.Downloaded)
	return nil
}

func (p *terminalPresenter) finishBar() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		p.bar.Finish()
		p.bar = nil
	}
}

// PresentArtifact copies the artifact into the output directory.
func (p *terminalPresenter) PresentArtifact(ctx context.Context, _ int64, artifact *model.Artifact) error {
	p.finishBar()
	dst := filepath.Join(p.outDir, filepath.Base(artifact.Path))
	if err := utils.CopyFile(ctx, artifact.Path, dst, nil); err != nil {
		return err
	}
	fmt.Fprintf(p.out, "Saved %s (%s) to %s\n", artifact.Title, model.FormatDuration(artifact.Duration), dst)
	return nil
}
