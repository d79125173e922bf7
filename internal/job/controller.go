package job

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/dgnsrekt/bookvox/internal/assemble"
	"github.com/dgnsrekt/bookvox/internal/cache"
	"github.com/dgnsrekt/bookvox/internal/chapters"
	"github.com/dgnsrekt/bookvox/internal/ebook"
	"github.com/dgnsrekt/bookvox/internal/pcm"
	"github.com/dgnsrekt/bookvox/internal/segment"
	"github.com/dgnsrekt/bookvox/internal/synth"
)

var (
	// ErrJobAlreadyRunning is returned when Run is called on a controller
	// that already ran.
	ErrJobAlreadyRunning = errors.New("job already running")

	// ErrCancelled is the terminal error of a cancelled job.
	ErrCancelled = errors.New("job cancelled")
)

const (
	// maxAttempts bounds synthesis tries per utterance before the silence
	// substitute takes its place.
	maxAttempts = 3

	// silenceSubstitute is the duration of the stand-in fragment for an
	// utterance that exhausted its attempts.
	silenceSubstitute = 600 * time.Millisecond

	// defaultGracePeriod is how long Cancel waits for in-flight utterances
	// before abandoning them.
	defaultGracePeriod = 5 * time.Second

	// defaultMemoryBudgetMB caps the worker pool by engine memory appetite.
	defaultMemoryBudgetMB = 4096
)

// Muxer writes the assembler's chapters into the final container.
// *assemble.Muxer is the production implementation.
type Muxer interface {
	Mux(ctx context.Context, a *assemble.Assembler, outputPath string, manifest assemble.Manifest) error
}

// Config assembles everything a conversion needs. Engine, Extractor and
// Muxer are required; Cache and Ledger are optional accelerators.
type Config struct {
	Source  string
	Output  string
	WorkDir string

	Engine synth.Engine
	Voice  synth.VoiceConfig

	Extractor *ebook.Extractor
	Edits     []chapters.Edit

	// MaxChars overrides the engine's utterance budget when positive.
	MaxChars int

	// Workers overrides the computed pool size when positive.
	Workers int

	// MemoryBudgetMB bounds Workers by the engine's per-instance memory
	// appetite. Zero means defaultMemoryBudgetMB.
	MemoryBudgetMB int

	// PartialOutput writes the chapters finished so far when the job is
	// cancelled instead of discarding them.
	PartialOutput bool

	// GracePeriod is how long a cancel waits for in-flight synthesis.
	GracePeriod time.Duration

	Cache  *cache.FragmentCache
	Ledger *Ledger
	Muxer  Muxer
	Logger *log.Logger
}

// Progress is a point-in-time view of a running job.
type Progress struct {
	JobID     string
	Status    Status
	Done      int
	Total     int
	Skipped   int
	CacheHits int
	Chapter   string
	Err       error
}

// Result summarizes a finished job.
type Result struct {
	JobID    string
	Status   Status
	Output   string
	Partial  bool
	Markers  []assemble.Marker
	Skipped  []assemble.SkippedUtterance
	Duration time.Duration
	Resumed  int
}

// Controller drives one ebook conversion from extraction to the muxed
// container. A controller is single-use; Run may be called once.
type Controller struct {
	cfg    Config
	id     string
	logger *log.Logger

	mu        sync.Mutex
	status    Status
	done      int
	total     int
	skipped   []assemble.SkippedUtterance
	cacheHits int
	resumed   int
	chapter   string
	err       error
	subs      []chan Progress

	started    bool
	cancelOnce sync.Once
	cancel     context.CancelFunc
	cancelled  chan struct{}
}

func New(cfg Config) (*Controller, error) {
	if cfg.Engine == nil {
		return nil, errors.New("job: engine is required")
	}
	if cfg.Extractor == nil {
		return nil, errors.New("job: extractor is required")
	}
	if cfg.Muxer == nil {
		return nil, errors.New("job: muxer is required")
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = defaultGracePeriod
	}
	if cfg.MemoryBudgetMB == 0 {
		cfg.MemoryBudgetMB = defaultMemoryBudgetMB
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Controller{
		cfg:       cfg,
		id:        uuid.NewString(),
		logger:    logger,
		status:    StatusPending,
		cancelled: make(chan struct{}),
	}, nil
}

// ID returns the job's identifier.
func (c *Controller) ID() string { return c.id }

// Cancel requests the job stop. It is idempotent and safe from any
// goroutine; in-flight utterances get GracePeriod to finish.
func (c *Controller) Cancel() {
	c.cancelOnce.Do(func() {
		close(c.cancelled)
		c.mu.Lock()
		cancel := c.cancel
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
}

// Snapshot returns the current progress.
func (c *Controller) Snapshot() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progressLocked()
}

// Subscribe returns a channel receiving progress updates. Slow receivers
// miss intermediate updates rather than blocking the job.
func (c *Controller) Subscribe() <-chan Progress {
	ch := make(chan Progress, 64)
	c.mu.Lock()
	c.subs = append(c.subs, ch)
	c.mu.Unlock()
	return ch
}

func (c *Controller) progressLocked() Progress {
	return Progress{
		JobID:     c.id,
		Status:    c.status,
		Done:      c.done,
		Total:     c.total,
		Skipped:   len(c.skipped),
		CacheHits: c.cacheHits,
		Chapter:   c.chapter,
		Err:       c.err,
	}
}

func (c *Controller) publishLocked() {
	p := c.progressLocked()
	for _, ch := range c.subs {
		select {
		case ch <- p:
		default:
		}
	}
}

// transition moves the job to a new status, panicking on a bug in the
// internal sequencing. External misuse cannot reach an invalid edge.
func (c *Controller) transition(to Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == to {
		return
	}
	if !isValidTransition(c.status, to) {
		panic(fmt.Sprintf("job: invalid transition %s -> %s", c.status, to))
	}
	c.status = to
	c.publishLocked()
}

// Run executes the job to completion, a cancel, or a failure. The returned
// Result is valid for completed, cancelled-with-partial-output and failed
// jobs alike.
func (c *Controller) Run(ctx context.Context) (*Result, error) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil, ErrJobAlreadyRunning
	}
	c.started = true
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	// A Cancel that raced Run before the context existed.
	select {
	case <-c.cancelled:
		cancel()
	default:
	}

	start := time.Now()
	res, err := c.run(runCtx)
	if res != nil {
		res.Duration = time.Since(start)
	}
	return res, err
}

func (c *Controller) run(ctx context.Context) (*Result, error) {
	c.logger.Info("starting conversion", "job", c.id, "source", c.cfg.Source)

	c.transition(StatusExtracting)
	doc, err := c.cfg.Extractor.Extract(ctx, c.cfg.Source)
	if err != nil {
		return c.finish(StatusFailed, nil, fmt.Errorf("extract %s: %w", c.cfg.Source, err))
	}
	for _, pf := range doc.Failures() {
		c.logger.Warn("page unreadable", "page", pf.Page+1, "err", pf.Err)
	}

	c.transition(StatusSegmenting)
	var chs []chapters.Chapter
	if len(c.cfg.Edits) > 0 {
		chs, err = chapters.ApplyEdits(doc, c.cfg.Edits)
		if err != nil {
			return c.finish(StatusFailed, nil, fmt.Errorf("apply chapter edits: %w", err))
		}
	} else {
		chs = chapters.Detect(doc)
	}

	caps := c.cfg.Engine.Capabilities()
	maxChars := c.cfg.MaxChars
	if maxChars <= 0 || maxChars > caps.MaxChars {
		maxChars = caps.MaxChars
	}
	splitter, err := segment.New(maxChars)
	if err != nil {
		return c.finish(StatusFailed, nil, err)
	}

	plan := make([][]segment.Utterance, len(chs))
	total := 0
	for i, ch := range chs {
		plan[i] = splitter.Split(i, chapters.TextOf(doc, ch))
		total += len(plan[i])
	}
	c.mu.Lock()
	c.total = total
	c.publishLocked()
	c.mu.Unlock()
	c.logger.Info("segmented", "chapters", len(chs), "utterances", total, "max_chars", maxChars)

	if err := ctx.Err(); err != nil {
		return c.finish(StatusCancelled, nil, ErrCancelled)
	}

	c.transition(StatusSynthesizing)
	if err := c.cfg.Engine.Load(ctx); err != nil {
		return c.finish(StatusFailed, nil, fmt.Errorf("load engine %s: %w", caps.Name, err))
	}
	defer c.cfg.Engine.Unload()

	if c.cfg.Ledger != nil {
		if prior := c.cfg.Ledger.DoneCount(c.fingerprint()); prior > 0 {
			c.logger.Info("resuming prior run", "completed_utterances", prior)
		}
	}

	asm, err := assemble.New(c.cfg.WorkDir, pcm.DefaultFormat())
	if err != nil {
		return c.finish(StatusFailed, nil, err)
	}

	resumed, synthErr := c.synthesize(ctx, chs, plan, asm)

	cancelled := ctx.Err() != nil
	if synthErr != nil && !cancelled {
		return c.finish(StatusFailed, nil, synthErr)
	}
	if cancelled && !c.cfg.PartialOutput {
		return c.finish(StatusCancelled, nil, ErrCancelled)
	}

	c.transition(StatusAssembling)
	finalStatus := StatusCompleted
	if cancelled {
		finalStatus = StatusCancelled
	}
	manifest := assemble.Manifest{
		Source:  c.cfg.Source,
		Engine:  caps.Name,
		Voice:   c.cfg.Voice.Voice,
		Status:  finalStatus.String(),
		Partial: cancelled,
		Skipped: c.snapshotSkipped(),
	}
	for _, pf := range doc.Failures() {
		manifest.PageFailures = append(manifest.PageFailures,
			fmt.Sprintf("page %d: %v", pf.Page+1, pf.Err))
	}

	// Muxing a partial result must survive the cancelled context.
	muxCtx := ctx
	if cancelled {
		muxCtx = context.Background()
	}
	if err := c.cfg.Muxer.Mux(muxCtx, asm, c.cfg.Output, manifest); err != nil {
		if cancelled && errors.Is(err, assemble.ErrNothingToWrite) {
			return c.finish(StatusCancelled, nil, ErrCancelled)
		}
		return c.finish(StatusFailed, nil, fmt.Errorf("assemble output: %w", err))
	}

	result := &Result{
		JobID:   c.id,
		Output:  c.cfg.Output,
		Partial: cancelled,
		Markers: asm.Markers(),
		Skipped: c.snapshotSkipped(),
		Resumed: resumed,
	}
	if cancelled {
		c.logger.Warn("job cancelled, partial output written", "output", c.cfg.Output)
		return c.finish(StatusCancelled, result, ErrCancelled)
	}
	if c.cfg.Ledger != nil {
		c.cfg.Ledger.Forget(c.fingerprint())
	}
	c.logger.Info("conversion complete", "output", c.cfg.Output,
		"chapters", len(result.Markers), "skipped", len(result.Skipped))
	return c.finish(StatusCompleted, result, nil)
}

func (c *Controller) fingerprint() string {
	return Fingerprint(c.cfg.Source, c.cfg.Engine.Capabilities().Name, c.cfg.Voice.Voice)
}

// finish records the terminal status and returns the result pair.
func (c *Controller) finish(status Status, result *Result, err error) (*Result, error) {
	c.mu.Lock()
	if !c.status.Terminal() && isValidTransition(c.status, status) {
		c.status = status
	}
	c.err = err
	if result != nil {
		result.Status = c.status
	}
	c.publishLocked()
	c.mu.Unlock()
	return result, err
}

// workerCount sizes the pool from the configured override, CPU count and the
// engine's memory appetite.
func (c *Controller) workerCount(caps synth.Capabilities) int {
	n := c.cfg.Workers
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if caps.MemoryMB > 0 {
		if byMemory := c.cfg.MemoryBudgetMB / caps.MemoryMB; byMemory < n {
			n = byMemory
		}
	}
	if caps.RequiresNetwork {
		// Network engines are rate-limited anyway; extra workers only pile
		// up on the limiter.
		n = 1
	}
	if n < 1 {
		n = 1
	}
	return n
}

type uttResult struct {
	frag *synth.Fragment
	err  error
}

// synthesize renders every planned utterance through a bounded worker pool
// and feeds finished chapters to the assembler in order. It returns the
// number of utterances restored from a previous interrupted run.
func (c *Controller) synthesize(ctx context.Context, chs []chapters.Chapter, plan [][]segment.Utterance, asm *assemble.Assembler) (int, error) {
	caps := c.cfg.Engine.Capabilities()
	workers := c.workerCount(caps)
	c.logger.Debug("worker pool sized", "workers", workers, "engine", caps.Name)

	// synthCtx gates starting new utterances; renderCtx keeps in-flight
	// synthesis alive through the cancel grace period.
	synthCtx, stop := context.WithCancel(ctx)
	defer stop()
	renderCtx, renderCancel := context.WithCancel(context.Background())
	defer renderCancel()

	work := make(chan segment.Utterance)
	results := make(chan uttResult, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for utt := range work {
				frag, hit, err := c.renderUtterance(renderCtx, utt)
				if hit {
					c.mu.Lock()
					c.cacheHits++
					c.mu.Unlock()
				}
				select {
				case results <- uttResult{frag: frag, err: err}:
				case <-renderCtx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(work)
		for _, utts := range plan {
			for _, utt := range utts {
				select {
				case work <- utt:
				case <-synthCtx.Done():
					return
				}
			}
		}
	}()

	workersDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(workersDone)
	}()

	pendingPerChapter := make([]int, len(plan))
	for i, utts := range plan {
		pendingPerChapter[i] = len(utts)
	}
	collected := make(map[int][]*synth.Fragment, len(plan))
	submitted := make(map[int]bool, len(plan))

	var firstErr error

collect:
	for remaining := c.totalUtterances(plan); remaining > 0; {
		select {
		case res := <-results:
			remaining--
			if res.err != nil {
				firstErr = res.err
				stop()
				renderCancel()
				break collect
			}
			frag := res.frag
			c.mu.Lock()
			c.done++
			c.chapter = chs[frag.Chapter].Title
			c.publishLocked()
			c.mu.Unlock()

			collected[frag.Chapter] = append(collected[frag.Chapter], frag)
			if len(collected[frag.Chapter]) == pendingPerChapter[frag.Chapter] {
				title := chs[frag.Chapter].Title
				if err := asm.SubmitChapter(frag.Chapter, title, collected[frag.Chapter]); err != nil {
					firstErr = err
					stop()
					renderCancel()
					break collect
				}
				submitted[frag.Chapter] = true
				delete(collected, frag.Chapter)
			}
		case <-ctx.Done():
			break collect
		}
	}

	if ctx.Err() != nil {
		// Grace period: let in-flight utterances finish so a partial output
		// does not cut a sentence in half.
		c.drainGrace(results, workersDone, renderCancel, collected)
		if err := c.flushCompleted(chs, plan, collected, submitted, asm); err != nil {
			c.logger.Error("partial flush incomplete", "err", err)
		}
		return c.resumedCount(), ctx.Err()
	}

	<-workersDone
	if firstErr != nil {
		return c.resumedCount(), firstErr
	}

	// Chapters that produced zero utterances never hit the collector.
	for i, utts := range plan {
		if len(utts) == 0 {
			if err := asm.SubmitOmitted(i, chs[i].Title); err != nil {
				return c.resumedCount(), err
			}
		}
	}
	return c.resumedCount(), nil
}

// drainGrace collects results from in-flight workers for up to the grace
// period after a cancel, so nearly finished chapters still make it into a
// partial output.
func (c *Controller) drainGrace(results <-chan uttResult, workersDone <-chan struct{}, renderCancel context.CancelFunc, collected map[int][]*synth.Fragment) {
	deadline := time.NewTimer(c.cfg.GracePeriod)
	defer deadline.Stop()
	for {
		select {
		case res := <-results:
			if res.err == nil {
				collected[res.frag.Chapter] = append(collected[res.frag.Chapter], res.frag)
				c.mu.Lock()
				c.done++
				c.publishLocked()
				c.mu.Unlock()
			}
		case <-workersDone:
			for {
				select {
				case res := <-results:
					if res.err == nil {
						collected[res.frag.Chapter] = append(collected[res.frag.Chapter], res.frag)
					}
				default:
					return
				}
			}
		case <-deadline.C:
			c.logger.Warn("grace period elapsed, abandoning in-flight synthesis")
			renderCancel()
			return
		}
	}
}

// flushCompleted gives every chapter a terminal marker after a cancel:
// chapters whose fragments all arrived (including during the grace period)
// are written out, everything else is recorded as omitted. Without the
// omitted markers a completed chapter behind an unfinished one would stay
// buffered in the assembler and vanish from the partial output.
func (c *Controller) flushCompleted(chs []chapters.Chapter, plan [][]segment.Utterance, collected map[int][]*synth.Fragment, submitted map[int]bool, asm *assemble.Assembler) error {
	var firstErr error
	for i := range plan {
		if submitted[i] {
			continue
		}
		var err error
		if len(plan[i]) > 0 && len(collected[i]) == len(plan[i]) {
			err = asm.SubmitChapter(i, chs[i].Title, collected[i])
		} else {
			err = asm.SubmitOmitted(i, chs[i].Title)
		}
		if err != nil {
			c.logger.Error("flush chapter after cancel", "chapter", i, "title", chs[i].Title, "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (c *Controller) totalUtterances(plan [][]segment.Utterance) int {
	n := 0
	for _, utts := range plan {
		n += len(utts)
	}
	return n
}

func (c *Controller) resumedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resumed
}

func (c *Controller) snapshotSkipped() []assemble.SkippedUtterance {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]assemble.SkippedUtterance, len(c.skipped))
	copy(out, c.skipped)
	return out
}

// renderUtterance satisfies one utterance from cache, the engine with
// retries, or the silence substitute as a last resort. The bool result
// reports a cache hit.
func (c *Controller) renderUtterance(ctx context.Context, utt segment.Utterance) (*synth.Fragment, bool, error) {
	caps := c.cfg.Engine.Capabilities()
	key := cache.Key(caps.Name, c.cfg.Voice.Voice, utt.Text)

	if c.cfg.Cache != nil {
		if data, ok := c.cfg.Cache.Get(key); ok {
			// A hit the ledger recorded comes from an interrupted earlier
			// run; without a ledger every hit counts as resumed work.
			if c.cfg.Ledger == nil || c.cfg.Ledger.Done(c.fingerprint(), key) {
				c.mu.Lock()
				c.resumed++
				c.mu.Unlock()
			}
			format := pcm.DefaultFormat()
			return &synth.Fragment{
				Chapter:    utt.Chapter,
				Seq:        utt.Seq,
				PCM:        data,
				Format:     format,
				Duration:   format.Duration(len(data)),
				PauseAfter: utt.PauseAfter,
			}, true, nil
		}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		frag, err := c.cfg.Engine.Synthesize(ctx, utt, c.cfg.Voice)
		if err == nil {
			c.storeFragment(key, frag)
			return frag, false, nil
		}
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		lastErr = err
		c.logger.Warn("synthesis attempt failed",
			"chapter", utt.Chapter, "seq", utt.Seq, "attempt", attempt, "err", err)
	}

	// Out of attempts. Substitute silence and keep the book moving.
	c.logger.Error("utterance skipped after retries",
		"chapter", utt.Chapter, "seq", utt.Seq, "err", lastErr)
	c.mu.Lock()
	c.skipped = append(c.skipped, assemble.SkippedUtterance{
		Chapter: utt.Chapter,
		Seq:     utt.Seq,
		Text:    utt.Text,
		Reason:  lastErr.Error(),
	})
	c.publishLocked()
	c.mu.Unlock()

	format := pcm.DefaultFormat()
	data := format.Silence(silenceSubstitute)
	return &synth.Fragment{
		Chapter:    utt.Chapter,
		Seq:        utt.Seq,
		PCM:        data,
		Format:     format,
		Duration:   silenceSubstitute,
		PauseAfter: utt.PauseAfter,
		Skipped:    true,
	}, false, nil
}

func (c *Controller) storeFragment(key string, frag *synth.Fragment) {
	if c.cfg.Cache != nil {
		if err := c.cfg.Cache.Put(key, frag.PCM); err != nil && !errors.Is(err, cache.ErrItemTooLarge) {
			c.logger.Debug("cache store failed", "err", err)
		}
	}
	if c.cfg.Ledger != nil {
		c.cfg.Ledger.MarkDone(c.fingerprint(), key)
	}
}
