package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/mchmarny/credscore/pkg/auth"
	"github.com/mchmarny/credscore/pkg/data"
	"github.com/mchmarny/credscore/pkg/net"
)

const manifestFileName = "manifest.json"

var (
	urlFlag = &cli.StringFlag{
		Name:    "url",
		Usage:   "Base URL of the raw extracts (default: fetch.baseURL from config)",
		Sources: cli.EnvVars(envPrefix + "FETCH_URL"),
	}

	fileFlag = &cli.StringSliceFlag{
		Name:  "file",
		Usage: "Name of a file to fetch (can be specified multiple times, default: fetch.files from config)",
	}

	manifestFlag = &cli.BoolFlag{
		Name:  "manifest",
		Usage: "Read the file list from manifest.json at the base URL",
	}

	maxSizeFlag = &cli.StringFlag{
		Name:  "max-size",
		Usage: "Maximum size of a single file, e.g. 500MB (default: fetch.maxSize from config)",
	}

	fetchOutFlag = &cli.StringFlag{
		Name:  "out",
		Usage: "Directory to write the files into (default: paths.rawDir from config)",
	}

	fetchCmd = &cli.Command{
		Name:  "fetch",
		Usage: "Download the raw extracts",
		UsageText: `credscore fetch --url https://data.example.com/home-credit
   credscore fetch --url https://data.example.com/home-credit --file bureau.csv.gz
   credscore fetch --url https://data.example.com/home-credit --manifest`,
		Flags:  []cli.Flag{urlFlag, fileFlag, manifestFlag, maxSizeFlag, fetchOutFlag},
		Action: cmdFetch,
	}
)

// Manifest lists the files published at a base URL.
type Manifest struct {
	Files []string `json:"files"`
}

// Fetched describes one downloaded file.
type Fetched struct {
	File  string `json:"file" yaml:"file"`
	Path  string `json:"path" yaml:"path"`
	Bytes int64  `json:"bytes" yaml:"bytes"`
	Size  string `json:"size" yaml:"size"`
}

func cmdFetch(ctx context.Context, cmd *cli.Command) error {
	start := time.Now()
	cfg := getConfig(cmd)
	fc := cfg.Config.Fetch

	base := cmd.String(urlFlag.Name)
	if base == "" {
		base = fc.BaseURL
	}
	if base == "" {
		return errors.New("base URL is required, use --url or set fetch.baseURL in config")
	}

	out := cmd.String(fetchOutFlag.Name)
	if out == "" {
		out = cfg.Config.Paths.RawDir
	}

	maxSize := fc.MaxSize
	if s := cmd.String(maxSizeFlag.Name); s != "" {
		v, err := datasize.ParseString(s)
		if err != nil {
			return fmt.Errorf("parsing max size %q: %w", s, err)
		}
		maxSize = v
	}

	client, err := fetchClient(ctx, cfg)
	if err != nil {
		return err
	}

	files := cmd.StringSlice(fileFlag.Name)
	if cmd.Bool(manifestFlag.Name) {
		if files, err = readManifest(ctx, client, base); err != nil {
			return err
		}
	}
	if len(files) == 0 {
		files = fc.Files
	}

	run := &data.Run{Step: cmd.Name, Input: base, Output: out}
	res, err := fetchFiles(ctx, client, base, out, files, maxSize, fc.Concurrency)
	if err == nil {
		run.Rows = len(res)
	}
	recordRun(cfg.DB, run, start, err)
	if err != nil {
		return err
	}
	return encode(cmd, res)
}

// fetchClient authenticates with the saved token when there is one.
func fetchClient(ctx context.Context, cfg *appConfig) (*http.Client, error) {
	store, err := tokenStore(cfg)
	if err != nil {
		return nil, err
	}
	token, err := store.Get()
	if err != nil {
		if !errors.Is(err, auth.ErrNoToken) {
			return nil, err
		}
		slog.Debug("no data source token, fetching anonymously")
	}
	return net.GetOAuthClient(ctx, token)
}

func readManifest(ctx context.Context, client *http.Client, base string) ([]string, error) {
	u, err := url.JoinPath(base, manifestFileName)
	if err != nil {
		return nil, fmt.Errorf("building manifest URL: %w", err)
	}
	var m Manifest
	if err := net.GetJSON(ctx, client, u, &m); err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	if len(m.Files) == 0 {
		return nil, fmt.Errorf("manifest %s lists no files", u)
	}
	return m.Files, nil
}

func fetchFiles(ctx context.Context, client *http.Client, base, dir string, files []string, maxSize datasize.ByteSize, concurrency int) ([]*Fetched, error) {
	if len(files) == 0 {
		return nil, errors.New("no files to fetch")
	}
	if concurrency < 1 {
		concurrency = 1
	}

	names := make([]string, len(files))
	for i, name := range files {
		name = strings.TrimSpace(name)
		if name == "" || filepath.Base(name) != name {
			return nil, fmt.Errorf("invalid file name %q", name)
		}
		names[i] = name
	}

	res := make([]*Fetched, len(names))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, name := range names {
		g.Go(func() error {
			u, err := url.JoinPath(base, name)
			if err != nil {
				return fmt.Errorf("building URL for %s: %w", name, err)
			}
			path := filepath.Join(dir, name)
			slog.Info("fetching", "url", u)
			n, err := net.Download(ctx, client, u, path, int64(maxSize.Bytes()))
			if err != nil {
				return fmt.Errorf("fetching %s: %w", name, err)
			}
			size := datasize.ByteSize(n)
			slog.Info("fetched", "file", name, "size", size.HumanReadable())
			res[i] = &Fetched{File: name, Path: path, Bytes: n, Size: size.HumanReadable()}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}
