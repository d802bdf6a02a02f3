package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/compose-network/rootchain/x/rootchain"
)

const (
	defaultAPIAddr        = "http://127.0.0.1:8080"
	defaultRequestTimeout = 10 * time.Second
)

var errMissingConfigPath = errors.New("missing required flag: -config")

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		d.Duration = 0
		return nil
	}

	switch value.Tag {
	case "!!int":
		secs, err := strconv.ParseInt(value.Value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value.Value, err)
		}
		d.Duration = time.Duration(secs) * time.Second
	case "!!str", "":
		if value.Value == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(value.Value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value.Value, err)
		}
		d.Duration = parsed
	default:
		return fmt.Errorf("unsupported duration type tag %q", value.Tag)
	}
	return nil
}

type config struct {
	APIAddr  string                `yaml:"api_addr"`
	Operator string                `yaml:"operator"`
	Bonds    rootchain.BondsConfig `yaml:"bonds"`
	Actions  []actionSpec          `yaml:"actions"`
}

type actionSpec struct {
	Type string `yaml:"type"`

	Fork    uint64 `yaml:"fork"`
	Kind    string `yaml:"kind"`
	Count   int    `yaml:"count"`
	From    string `yaml:"from"`
	Asset   string `yaml:"asset"`
	TrieKey string `yaml:"trie_key"`
	Value   string `yaml:"value"`
	Limit   int    `yaml:"limit"`

	Duration duration `yaml:"duration"`
}

func main() {
	cfgPath := flag.String("config", "", "Path to YAML file describing the workflow")
	flag.Parse()

	if *cfgPath == "" {
		flag.Usage()
		fmt.Fprintln(os.Stderr, errMissingConfigPath)
		os.Exit(2)
	}

	cfg, err := loadConfig(*cfgPath, os.ReadFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}).Level(zerolog.InfoLevel).With().Timestamp().Logger()

	c := &client{base: cfg.APIAddr, http: &http.Client{Timeout: defaultRequestTimeout}}
	if err := run(context.Background(), cfg, c, logger); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string, reader func(string) ([]byte, error)) (config, error) {
	data, err := reader(path)
	if err != nil {
		return config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := config{Bonds: rootchain.DefaultConfig().Bonds}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return config{}, fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.APIAddr == "" {
		cfg.APIAddr = defaultAPIAddr
	}
	if cfg.Operator != "" && !common.IsHexAddress(cfg.Operator) {
		return config{}, fmt.Errorf("operator %q is not a hex address", cfg.Operator)
	}
	if _, err := cfg.Bonds.Parse(); err != nil {
		return config{}, err
	}
	if len(cfg.Actions) == 0 {
		return config{}, errors.New("config must include at least one action")
	}
	return cfg, nil
}

// client is a thin JSON client for the rootchain HTTP API.
type client struct {
	base string
	http *http.Client
}

func (c *client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, bytes.TrimSpace(msg))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func run(ctx context.Context, cfg config, c *client, logger zerolog.Logger) error {
	for idx, action := range cfg.Actions {
		logger := logger.With().Int("step", idx+1).Str("action", action.Type).Logger()
		if err := execute(ctx, cfg, c, action, logger); err != nil {
			return fmt.Errorf("action %d (%s): %w", idx+1, action.Type, err)
		}
	}

	var stats rootchain.Stats
	if err := c.do(ctx, http.MethodGet, "/v1/rootchain/stats", nil, &stats); err != nil {
		return err
	}
	logger.Info().
		Uint64("fork", stats.CurrentFork).
		Uint64("last_block", stats.LastBlock).
		Uint64("last_finalized_block", stats.LastFinalizedBlock).
		Uint64("ero_requests", stats.EnterExitRequests).
		Uint64("eru_requests", stats.UserExitRequests).
		Msg("workflow finished")
	return nil
}

//nolint:gocyclo // one case per action type
func execute(ctx context.Context, cfg config, c *client, action actionSpec, logger zerolog.Logger) error {
	switch action.Type {
	case "submit-block", "submit_block":
		return executeSubmitBlocks(ctx, cfg, c, action, logger)

	case "enter", "exit", "user-exit", "user_exit":
		path, bond := "/v1/rootchain/requests/enter", cfg.Bonds.ERO
		switch action.Type {
		case "exit":
			path = "/v1/rootchain/requests/exit"
		case "user-exit", "user_exit":
			path, bond = "/v1/rootchain/user-exits/requests", cfg.Bonds.ERU
		}
		var resp struct {
			Kind rootchain.RequestKind `json:"kind"`
			ID   uint64                `json:"id"`
		}
		err := c.do(ctx, http.MethodPost, path, map[string]any{
			"from":     common.HexToAddress(action.From),
			"asset":    common.HexToAddress(action.Asset),
			"trie_key": common.HexToHash(action.TrieKey),
			"value":    action.Value,
			"bond":     bond,
		}, &resp)
		if err != nil {
			return err
		}
		logger.Info().Stringer("kind", resp.Kind).Uint64("request_id", resp.ID).Msg("request created")
		return nil

	case "prepare":
		return c.do(ctx, http.MethodPost, "/v1/rootchain/user-exits/prepare", map[string]any{
			"from": common.HexToAddress(action.From),
			"bond": cfg.Bonds.URBPrepare,
		}, nil)

	case "user-block", "user_block":
		var fork rootchain.Fork
		err := c.do(ctx, http.MethodPost, "/v1/rootchain/user-exits/blocks", map[string]any{
			"from": common.HexToAddress(action.From),
			"bond": cfg.Bonds.URB,
		}, &fork)
		if err != nil {
			return err
		}
		logger.Info().Uint64("fork", fork.ID).Uint64("forked_block", fork.ForkedBlock).Msg("forked")
		return nil

	case "finalize-blocks", "finalize_blocks":
		var resp struct {
			Finalized int `json:"finalized"`
		}
		path := fmt.Sprintf("/v1/rootchain/forks/%d/finalize", action.Fork)
		if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
			return err
		}
		logger.Info().Int("finalized", resp.Finalized).Msg("blocks finalized")
		return nil

	case "finalize-requests", "finalize_requests":
		kind := action.Kind
		if kind == "" {
			kind = rootchain.KindERO.String()
		}
		var outs []rootchain.RequestOutcome
		path := "/v1/rootchain/requests/" + kind + "/finalize"
		if err := c.do(ctx, http.MethodPost, path, map[string]any{"limit": action.Limit}, &outs); err != nil {
			return err
		}
		logger.Info().Int("finalized", len(outs)).Msg("requests finalized")
		return nil

	case "wait", "sleep":
		if action.Duration.Duration <= 0 {
			return errors.New("wait action requires a positive duration")
		}
		logger.Info().Dur("duration", action.Duration.Duration).Msg("sleeping")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(action.Duration.Duration):
			return nil
		}

	default:
		return fmt.Errorf("unsupported type %q", action.Type)
	}
}

func executeSubmitBlocks(ctx context.Context, cfg config, c *client, action actionSpec, logger zerolog.Logger) error {
	kind, err := rootchain.ParseBlockKind(action.Kind)
	if err != nil {
		return err
	}
	bond := cfg.Bonds.NRB
	if kind == rootchain.KindORB {
		bond = cfg.Bonds.ORB
	}
	count := action.Count
	if count <= 0 {
		count = 1
	}

	for i := 0; i < count; i++ {
		var resp struct {
			Number uint64 `json:"number"`
		}
		err := c.do(ctx, http.MethodPost, "/v1/rootchain/blocks", map[string]any{
			"fork": action.Fork,
			"kind": kind,
			"from": common.HexToAddress(cfg.Operator),
			"bond": bond,
		}, &resp)
		if err != nil {
			return err
		}
		logger.Info().Stringer("kind", kind).Uint64("block_number", resp.Number).Msg("block committed")
	}
	return nil
}
