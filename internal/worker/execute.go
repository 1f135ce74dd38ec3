package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"clipsafe/internal/ffmpeg"
	"clipsafe/internal/fileutil"
	"clipsafe/internal/logging"
	"clipsafe/internal/media/ffprobe"
	"clipsafe/internal/queue"
	"clipsafe/internal/services"
	"clipsafe/internal/staging"
	"clipsafe/internal/storage"
	"clipsafe/internal/textutil"
	"clipsafe/internal/toolrun"
)

// execution carries per-job state through the steps of run.
type execution struct {
	job        *queue.Job
	workspace  *staging.Workspace
	input      string
	probe      ffprobe.Result
	command    ffmpeg.Command
	stored     *storage.Location
	resultSize int64
}

// process runs job to an outcome. It records Complete or Fail unless the
// pool is shutting down or the job was taken over, in which case the job
// is left for reclaim.
func (p *Pool) process(parent context.Context, workerID string, job *queue.Job) {
	ctx := services.WithOperation(services.WithJobID(parent, job.ID), string(job.Operation))
	logger := logging.WithContext(ctx, p.logger)
	untrack := p.track(job.ID, workerID)
	defer untrack()

	jobCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	var hb sync.WaitGroup
	hb.Add(1)
	go p.heartbeat(jobCtx, &hb, job.ID, workerID, cancel)

	started := time.Now()
	st := &execution{job: job}
	err := p.run(jobCtx, st)
	if st.workspace != nil {
		p.staging.Remove(st.workspace)
	}

	if err == nil {
		_, err = p.svc.Complete(jobCtx, job.ID, queue.Result{
			Name:      st.stored.Name,
			SizeBytes: st.resultSize,
			PublicURL: p.publicURL(jobCtx, st),
			Reencoded: st.command.Reencodes(),
		})
		if err == nil {
			cancel(nil)
			hb.Wait()
			logger.Info("job finished",
				logging.Duration("elapsed", time.Since(started)),
				logging.String(logging.FieldEventType, "job_finished"),
			)
			return
		}
	}
	cancel(nil)
	hb.Wait()

	switch {
	case errors.Is(context.Cause(jobCtx), errOwnershipLost),
		services.KindOf(err) == services.KindInvalidTransition:
		// Another attempt owns the namespace now; its result must survive.
		logging.WarnWithContext(logger, "job moved on without this worker; keeping stored artifacts", "job_superseded",
			logging.Int("attempt", job.Attempts),
			logging.String(logging.FieldImpact, "the winning attempt's outcome stands"),
		)
		return
	case parent.Err() != nil:
		p.discardResult(context.WithoutCancel(ctx), st)
		logger.Info("job interrupted by shutdown; leaving it for reclaim",
			logging.String(logging.FieldEventType, "job_interrupted"))
		return
	}

	p.discardResult(ctx, st)
	if _, failErr := p.svc.Fail(ctx, job.ID, err); failErr != nil {
		logger.Error("failed to record job failure",
			logging.Error(failErr),
			logging.String("cause", err.Error()),
			logging.String(logging.FieldEventType, "job_fail_write_failed"),
			logging.String(logging.FieldErrorHint, "the job is reclaimed after heartbeat_timeout"),
		)
	}
}

// run performs the execution steps up to storing the result.
func (p *Pool) run(ctx context.Context, st *execution) error {
	job := st.job
	ws, err := p.staging.Create(job.ID)
	if err != nil {
		return err
	}
	st.workspace = ws
	for _, dir := range []string{"in", "out"} {
		if err := os.MkdirAll(ws.Path(dir), 0o755); err != nil {
			return services.Wrap(services.ErrStorageUnavailable, "worker", "workspace", ws.Path(dir), err)
		}
	}

	if err := p.resolveSource(ctx, st); err != nil {
		return err
	}
	if err := p.inspect(ctx, st); err != nil {
		return err
	}
	if err := p.staging.EnsureFree(ws, sourceSize(st)); err != nil {
		return err
	}

	cmd, err := ffmpeg.Build(ffmpeg.Request{
		Operation:  job.Operation,
		Params:     job.Params,
		Probe:      st.probe,
		SourcePath: st.input,
		SourceName: sourceName(job),
		OutputDir:  ws.Path("out"),
	})
	if err != nil {
		return err
	}
	st.command = cmd

	budget := p.budget(st.probe.KnownDuration())
	if _, err := p.runner.Run(ctx, p.ffmpegBinary, cmd.Args, budget); err != nil {
		return err
	}
	info, err := os.Stat(cmd.OutputPath)
	if err != nil || info.Size() == 0 {
		return services.Wrap(services.ErrToolExecutionFailed, "worker", "verify output",
			fmt.Sprintf("ffmpeg produced no output at %s", filepath.Base(cmd.OutputPath)), err)
	}

	loc, err := storage.PutFile(ctx, p.storage, job.ID, resultName(job, cmd.OutputName), cmd.OutputPath)
	if err != nil {
		return err
	}
	st.stored = &loc
	if err := p.svc.RecordArtifact(ctx, queue.Artifact{
		JobID:     job.ID,
		Kind:      queue.ArtifactResult,
		Name:      loc.Name,
		Location:  loc.Key(),
		SizeBytes: info.Size(),
	}); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, p.logger), "recording result artifact failed", "artifact_record_failed",
			logging.Error(err))
	}
	st.resultSize = info.Size()
	return nil
}

// resolveSource materialises the job input inside the workspace.
func (p *Pool) resolveSource(ctx context.Context, st *execution) error {
	job := st.job
	st.input = st.workspace.Path(filepath.Join("in", inputName(job)))
	switch job.Source.Kind {
	case queue.SourceUpload:
		rc, err := p.storage.Open(ctx, storage.Location{JobID: job.ID, Name: job.Source.Name})
		if err != nil {
			return err
		}
		defer rc.Close()
		if _, err := fileutil.WriteAtomic(st.input, rc, 0o644, p.maxBytes); err != nil {
			if errors.Is(err, fileutil.ErrLimitExceeded) {
				return services.Wrap(services.ErrInvalidParameters, "worker", "stage source", "the file is larger than the size limit", nil)
			}
			return services.Wrap(services.ErrStorageUnavailable, "worker", "stage source", job.Source.Name, err)
		}
		return nil
	case queue.SourceURL:
		if p.downloader == nil {
			return services.Wrap(services.ErrConfiguration, "worker", "download", "no downloader configured", nil)
		}
		if err := p.staging.EnsureFree(st.workspace, job.Source.SizeBytes); err != nil {
			return err
		}
		_, err := p.downloader.Download(ctx, job.Source.URL, st.input)
		return err
	default:
		return services.Wrap(services.ErrInvalidParameters, "worker", "resolve source",
			fmt.Sprintf("unknown source kind %q", job.Source.Kind), nil)
	}
}

// inspect probes the staged input and enforces the size and duration caps.
func (p *Pool) inspect(ctx context.Context, st *execution) error {
	probeCtx, cancel := context.WithTimeout(ctx, p.budget(0))
	defer cancel()
	result, err := ffprobe.Inspect(probeCtx, p.ffprobeBinary, st.input)
	if err != nil {
		if errors.Is(probeCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return services.Wrap(services.ErrTimeout, "worker", "ffprobe", "probe exceeded its deadline", nil)
		}
		return services.Wrap(services.ErrToolExecutionFailed, "worker", "ffprobe", "could not read the media", err)
	}
	st.probe = result
	if p.maxDuration > 0 && result.KnownDuration() > p.maxDuration.Seconds() {
		return services.Wrap(services.ErrInvalidParameters, "worker", "check duration",
			fmt.Sprintf("the media is longer than %s", p.maxDuration), nil)
	}
	if size := sourceSize(st); p.maxBytes > 0 && size > p.maxBytes {
		return services.Wrap(services.ErrInvalidParameters, "worker", "check size",
			"the file is larger than the size limit", nil)
	}
	return nil
}

func (p *Pool) budget(durationSeconds float64) time.Duration {
	return toolrun.Budget(p.timeoutBase, p.timeoutFactor, p.timeoutMax, durationSeconds)
}

func (p *Pool) publicURL(ctx context.Context, st *execution) string {
	url, err := p.storage.ResolvePublicURL(ctx, *st.stored)
	if err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, p.logger), "resolving public url failed", "public_url_failed",
			logging.Error(err))
		return ""
	}
	return url
}

// resultName is the stored name of an attempt's output. It never equals
// the uploaded source, and retries get their own name so a superseded
// attempt cannot overwrite or delete the winner's file.
func resultName(job *queue.Job, output string) string {
	stem, ext := textutil.SplitName(output)
	if job.Source.Kind == queue.SourceUpload && output == job.Source.Name {
		stem += "_out"
	}
	if job.Attempts > 1 {
		stem = fmt.Sprintf("%s_%d", stem, job.Attempts)
	}
	return stem + ext
}

// discardResult removes a stored result that never became a completed job.
// Only call it while this worker still owns the job.
func (p *Pool) discardResult(ctx context.Context, st *execution) {
	if st.stored == nil {
		return
	}
	if err := p.storage.Remove(ctx, *st.stored); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, p.logger), "removing partial result failed", "partial_cleanup_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "the object stays until the namespace expires"),
		)
		return
	}
	_ = p.svc.ForgetArtifact(ctx, st.job.ID, st.stored.Name)
}

func sourceSize(st *execution) int64 {
	if size := st.probe.SizeBytes(); size > 0 {
		return size
	}
	if info, err := os.Stat(st.input); err == nil {
		return info.Size()
	}
	return st.job.Source.SizeBytes
}

// sourceName is the user-facing name output names derive from.
func sourceName(job *queue.Job) string {
	if name := strings.TrimSpace(job.Source.Filename); name != "" {
		return name
	}
	return job.Source.Name
}

func inputName(job *queue.Job) string {
	_, ext := textutil.SplitName(textutil.SanitizeFileName(sourceName(job)))
	return "source" + strings.ToLower(ext)
}
