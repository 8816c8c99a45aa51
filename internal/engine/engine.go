package engine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"golang.org/x/sync/errgroup"

	"github.com/dejo1307/bridgemeta/internal/config"
	"github.com/dejo1307/bridgemeta/internal/extract"
	"github.com/dejo1307/bridgemeta/internal/facts"
	"github.com/dejo1307/bridgemeta/internal/merge"
	"github.com/dejo1307/bridgemeta/internal/model"
	"github.com/dejo1307/bridgemeta/internal/oracle"
	"github.com/dejo1307/bridgemeta/internal/overrides"
	"github.com/dejo1307/bridgemeta/internal/renderers"
	"github.com/dejo1307/bridgemeta/internal/resolve"
)

// Files the engine writes next to the renderer artifacts.
const (
	FactsFile = "facts.jsonl"
	ModelFile = "model.json"
	MetaFile  = "snapshot.meta.json"
)

// Engine orchestrates the metadata generation pipeline.
type Engine struct {
	mu        sync.Mutex
	cfg       *config.Config
	renderers *renderers.Registry
	store     *facts.Store
	snapshot  *facts.Snapshot
	prevMeta  *facts.SnapshotMeta // meta of the previous run, for incremental support
}

// New creates a new Engine with the given config.
// Renderers must be registered after creation.
func New(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("engine: nil config")
	}
	return &Engine{
		cfg:       cfg,
		renderers: renderers.NewRegistry(),
		store:     facts.NewStore(),
	}, nil
}

// RegisterRenderer adds a renderer to the engine.
func (e *Engine) RegisterRenderer(rnd renderers.Renderer) {
	e.renderers.Register(rnd)
}

// Store returns the fact store.
func (e *Engine) Store() *facts.Store {
	return e.store
}

// Snapshot returns the last generated snapshot, or nil.
func (e *Engine) Snapshot() *facts.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot
}

// SetSnapshot replaces the current snapshot and indexes its facts.
func (e *Engine) SetSnapshot(s *facts.Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snapshot = s
	if s != nil {
		e.store.Replace(s.Facts)
	}
}

// Config returns the engine config.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// OutputDir returns the directory artifacts are written to.
func (e *Engine) OutputDir() string {
	return e.cfg.Path(e.cfg.Output.Dir)
}

// Generate runs the full pipeline: extract -> resolve -> merge -> render.
// Unless force is set, a run whose inputs hash the same as the previous
// run's reuses the previous model.json and only re-renders.
func (e *Engine) Generate(ctx context.Context, force bool) (*facts.Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	outDir := e.OutputDir()

	// Load previous meta for incremental support
	e.loadPreviousMeta(outDir)

	inputs := e.inputFiles()
	currentHashes, changed := e.filterChangedFiles(inputs)
	log.Printf("[engine] %d of %d input files changed since last run", len(changed), len(inputs))

	docs, err := overrides.LoadAll(e.cfg.Paths(e.cfg.Overrides))
	if err != nil {
		return nil, fmt.Errorf("loading overrides: %w", err)
	}

	var (
		m           *model.Model
		archs       []string
		mergeErrors []string
	)
	if !force && e.prevMeta != nil && len(changed) == 0 {
		prev, err := model.ReadJSONFile(filepath.Join(outDir, ModelFile))
		if err == nil {
			m, archs, mergeErrors = prev, e.prevMeta.Archs, e.prevMeta.MergeErrors
			log.Printf("[engine] no changes detected, reloaded model from cache")
		} else {
			log.Printf("[engine] cache miss: %v", err)
		}
	}
	if m == nil {
		m, archs, mergeErrors, err = e.build(ctx, docs)
		if err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.store.Replace(facts.FromModel(m))
	log.Printf("[engine] indexed %d entities", e.store.Count())

	// Build file hashes for the snapshot meta
	fileHashes := make([]facts.FileHash, 0, len(currentHashes))
	for _, path := range inputs {
		hash, ok := currentHashes[path]
		if !ok {
			continue
		}
		fileHashes = append(fileHashes, facts.FileHash{
			Path:    path,
			Hash:    hash,
			ModTime: fileModTime(path),
		})
	}

	duration := time.Since(start)
	snapshot := &facts.Snapshot{
		Meta: facts.SnapshotMeta{
			Framework:   e.cfg.Framework,
			GeneratedAt: time.Now().UTC().Format(time.RFC3339),
			Duration:    duration.String(),
			Archs:       archs,
			Overrides:   e.cfg.Overrides,
			Renderers:   []string{},
			FileHashes:  fileHashes,
			FactCount:   e.store.Count(),
			Counts:      m.Count(),
			MergeErrors: mergeErrors,
		},
		Facts:     e.store.All(),
		Model:     m,
		Overrides: docs,
	}

	usedRenderers, err := e.runRenderers(ctx, snapshot)
	if err != nil {
		return nil, fmt.Errorf("rendering: %w", err)
	}
	snapshot.Meta.Renderers = usedRenderers
	log.Printf("[engine] produced %d artifacts using %d renderers", len(snapshot.Artifacts), len(usedRenderers))

	e.snapshot = snapshot
	log.Printf("[engine] metadata generated in %s", duration)
	return snapshot, nil
}

// build extracts every header once per architecture, resolves the results
// into one model and merges the override documents into it.
func (e *Engine) build(ctx context.Context, docs []*overrides.Document) (*model.Model, []string, []string, error) {
	deps, err := overrides.LoadAll(e.cfg.Paths(e.cfg.Dependencies))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading dependencies: %w", err)
	}
	directives, err := overrides.Prepare(docs)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("preparing overrides: %w", err)
	}
	rt, err := oracle.LoadRuntime(e.cfg.Path(e.cfg.Oracle.Runtime))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading runtime oracle: %w", err)
	}

	var (
		passes []resolve.Arch
		archs  []string
	)
	for _, path := range e.cfg.Paths(e.cfg.Oracle.Tables) {
		table, err := oracle.LoadTable(path)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("loading oracle table: %w", err)
		}
		results, err := e.extractHeaders(ctx, directives, table.Is64())
		if err != nil {
			return nil, nil, nil, fmt.Errorf("extraction (%s): %w", table.Arch, err)
		}
		log.Printf("[engine] extracted %d headers for %s", len(results), table.Arch)
		passes = append(passes, resolve.Arch{Table: table, Results: results})
		archs = append(archs, table.Arch)
	}

	m, err := resolve.Resolve(ctx, &resolve.Input{
		Directives:        directives,
		Runtime:           rt,
		DependencyCFTypes: overrides.DependencyCFTypes(deps),
		DependsOn:         e.cfg.Dependencies,
	}, passes...)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("resolving: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, nil, err
	}

	merger := merge.New(merge.Options{
		IgnoreErrors: e.cfg.Merge.IgnoreErrors,
		PartialDump:  e.cfg.Path(e.cfg.Merge.PartialDump),
	})
	if err := merger.Merge(m, docs); err != nil {
		return nil, nil, nil, err
	}
	var mergeErrors []string
	for _, v := range merger.Ignored() {
		mergeErrors = append(mergeErrors, fmt.Sprintf("%s: %s", v.Document, v.Message))
	}
	return m, archs, mergeErrors, nil
}

// extractHeaders runs the extractor over every configured header that no
// ignored_headers directive excludes, in configuration order.
func (e *Engine) extractHeaders(ctx context.Context, directives *overrides.Directives, is64 bool) ([]*extract.Result, error) {
	var headers []config.HeaderConfig
	for _, h := range e.cfg.Headers {
		if directives.HeaderIgnored(h.Path) {
			log.Printf("[engine] skipping ignored header %s", h.Path)
			continue
		}
		headers = append(headers, h)
	}

	results := make([]*extract.Result, len(headers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, h := range headers {
		g.Go(func() error {
			hdr, err := e.readHeader(h, is64)
			if err != nil {
				return err
			}
			r, err := extract.Extract(gctx, hdr)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// readHeader loads the text of h as preprocessed for one word size.
func (e *Engine) readHeader(h config.HeaderConfig, is64 bool) (*extract.Header, error) {
	textPath := h.Preprocessed
	if is64 && h.Preprocessed64 != "" {
		textPath = h.Preprocessed64
	}
	text, err := e.readOptional(textPath)
	if err != nil {
		return nil, err
	}
	complete, err := e.readOptional(h.Complete)
	if err != nil {
		return nil, err
	}
	raw, err := e.readOptional(h.Source)
	if err != nil {
		return nil, err
	}
	return &extract.Header{Path: h.Path, Text: text, Complete: complete, Raw: raw}, nil
}

func (e *Engine) readOptional(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(e.cfg.Path(path))
	if err != nil {
		return "", fmt.Errorf("reading header: %w", err)
	}
	return string(data), nil
}

// inputFiles lists every file a run reads, resolved and deduplicated, in a
// stable order.
func (e *Engine) inputFiles() []string {
	var files []string
	if e.cfg.Source != "" {
		files = append(files, e.cfg.Source)
	}
	for _, h := range e.cfg.Headers {
		files = append(files, e.cfg.Paths([]string{h.Preprocessed, h.Preprocessed64, h.Complete, h.Source})...)
	}
	files = append(files, e.cfg.Paths(e.cfg.Oracle.Tables)...)
	files = append(files, e.cfg.Path(e.cfg.Oracle.Runtime))
	files = append(files, e.cfg.Paths(e.cfg.Overrides)...)
	files = append(files, e.cfg.Paths(e.cfg.Dependencies)...)

	seen := make(map[string]bool, len(files))
	out := files[:0]
	for _, f := range files {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// runRenderers runs all enabled renderers.
func (e *Engine) runRenderers(ctx context.Context, snapshot *facts.Snapshot) ([]string, error) {
	usedNames := []string{}

	for _, rnd := range e.renderers.All() {
		if !e.cfg.IsRendererEnabled(rnd.Name()) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		log.Printf("[engine] running renderer: %s", rnd.Name())
		artifacts, err := rnd.Render(ctx, snapshot)
		if err != nil {
			log.Printf("[engine] renderer %s error: %v", rnd.Name(), err)
			continue
		}

		for i := range artifacts {
			artifacts[i].Renderer = rnd.Name()
		}
		snapshot.Artifacts = append(snapshot.Artifacts, artifacts...)
		usedNames = append(usedNames, rnd.Name())
	}

	return usedNames, nil
}

// WriteArtifacts writes all snapshot artifacts to the output directory,
// including facts.jsonl, model.json, and snapshot.meta.json.
func (e *Engine) WriteArtifacts() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.snapshot == nil {
		return fmt.Errorf("no snapshot generated")
	}

	outDir := e.OutputDir()
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	// Write renderer artifacts (e.g. Foundation.bridgesupport)
	for _, a := range e.snapshot.Artifacts {
		path := filepath.Join(outDir, a.Name)
		if err := os.WriteFile(path, a.Content, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", a.Name, err)
		}
		log.Printf("[engine] wrote %s (%d bytes)", path, len(a.Content))
	}

	factsPath := filepath.Join(outDir, FactsFile)
	if err := e.store.WriteJSONLFile(factsPath); err != nil {
		return fmt.Errorf("writing %s: %w", FactsFile, err)
	}
	log.Printf("[engine] wrote %s", factsPath)

	if e.snapshot.Model != nil {
		modelPath := filepath.Join(outDir, ModelFile)
		if err := e.snapshot.Model.WriteJSONFile(modelPath); err != nil {
			return fmt.Errorf("writing %s: %w", ModelFile, err)
		}
		log.Printf("[engine] wrote %s", modelPath)
	}

	metaJSON, err := marshalIndent(e.snapshot.Meta)
	if err != nil {
		return fmt.Errorf("marshaling meta: %w", err)
	}
	metaPath := filepath.Join(outDir, MetaFile)
	if err := os.WriteFile(metaPath, metaJSON, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", MetaFile, err)
	}
	log.Printf("[engine] wrote %s (%d bytes)", metaPath, len(metaJSON))

	return nil
}

// GetArtifact returns the content of a named artifact, or the generated
// JSONL/JSON files.
func (e *Engine) GetArtifact(name string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.snapshot == nil {
		return nil, fmt.Errorf("no snapshot generated")
	}

	switch name {
	case FactsFile:
		var buf bytes.Buffer
		if err := e.store.WriteJSONL(&buf); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case ModelFile:
		if e.snapshot.Model == nil {
			return nil, fmt.Errorf("artifact %q not found", name)
		}
		var buf bytes.Buffer
		if err := e.snapshot.Model.WriteJSON(&buf); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case MetaFile:
		return marshalIndent(e.snapshot.Meta)
	default:
		for _, a := range e.snapshot.Artifacts {
			if a.Name == name {
				return a.Content, nil
			}
		}
		return nil, fmt.Errorf("artifact %q not found", name)
	}
}

// RendererArtifact returns the first artifact the named renderer produced.
func (e *Engine) RendererArtifact(renderer string) (facts.Artifact, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.snapshot == nil {
		return facts.Artifact{}, fmt.Errorf("no snapshot generated")
	}
	i := slices.IndexFunc(e.snapshot.Artifacts, func(a facts.Artifact) bool { return a.Renderer == renderer })
	if i < 0 {
		return facts.Artifact{}, fmt.Errorf("renderer %q produced no artifact", renderer)
	}
	return e.snapshot.Artifacts[i], nil
}

// LoadExisting restores the snapshot of a previous run from the output
// directory and re-renders it, so queries work without regenerating.
func (e *Engine) LoadExisting(ctx context.Context) error {
	outDir := e.OutputDir()
	m, err := model.ReadJSONFile(filepath.Join(outDir, ModelFile))
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.loadPreviousMeta(outDir)
	meta := facts.SnapshotMeta{Framework: e.cfg.Framework}
	if e.prevMeta != nil {
		meta = *e.prevMeta
	}
	docs, err := overrides.LoadAll(e.cfg.Paths(e.cfg.Overrides))
	if err != nil {
		log.Printf("[engine] warning: overrides unavailable: %v", err)
		docs = nil
	}

	e.store.Replace(facts.FromModel(m))
	meta.FactCount = e.store.Count()
	meta.Counts = m.Count()
	snapshot := &facts.Snapshot{Meta: meta, Facts: e.store.All(), Model: m, Overrides: docs}
	used, err := e.runRenderers(ctx, snapshot)
	if err != nil {
		return err
	}
	snapshot.Meta.Renderers = used
	e.snapshot = snapshot
	log.Printf("[engine] loaded %d entities from %s", meta.FactCount, outDir)
	return nil
}

func marshalIndent(v any) ([]byte, error) {
	return json.Marshal(v, json.Deterministic(true), jsontext.WithIndent("  "))
}

// loadPreviousMeta reads the previous snapshot.meta.json, if any.
func (e *Engine) loadPreviousMeta(outDir string) {
	e.prevMeta = nil
	data, err := os.ReadFile(filepath.Join(outDir, MetaFile))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("[engine] warning: reading previous meta: %v", err)
		}
		return
	}

	var meta facts.SnapshotMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		log.Printf("[engine] warning: decoding previous meta: %v", err)
		return
	}
	e.prevMeta = &meta
	log.Printf("[engine] loaded %d file hashes from previous snapshot", len(meta.FileHashes))
}

// filterChangedFiles computes SHA-256 hashes for all files and returns the
// current hash map and the files that changed since the previous run. A
// file that can no longer be read, or that the previous run did not read,
// counts as changed.
func (e *Engine) filterChangedFiles(files []string) (map[string]string, []string) {
	prevHashes := make(map[string]string)
	if e.prevMeta != nil {
		for _, fh := range e.prevMeta.FileHashes {
			prevHashes[fh.Path] = fh.Hash
		}
	}

	currentHashes := make(map[string]string, len(files))
	var changed []string
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			// Can't hash, treat as changed
			changed = append(changed, file)
			continue
		}

		h := sha256.Sum256(data)
		hash := hex.EncodeToString(h[:])
		currentHashes[file] = hash

		if prevHash, ok := prevHashes[file]; !ok || prevHash != hash {
			changed = append(changed, file)
		}
	}
	// Inputs dropped from the configuration change the result too.
	for prev := range prevHashes {
		if _, ok := currentHashes[prev]; !ok && !slices.Contains(changed, prev) {
			changed = append(changed, prev)
		}
	}

	return currentHashes, changed
}

// fileModTime returns the modification time of a file as an RFC3339 string.
func fileModTime(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}
	return info.ModTime().UTC().Format(time.RFC3339)
}
