package runner

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"comfyrun/internal/comfyui"
	"comfyrun/internal/config"
	"comfyrun/internal/imaging"
	"comfyrun/internal/interfaces"
	"comfyrun/internal/jobstore"
	"comfyrun/internal/workflow"
)

// ErrNoImage is the distinct outcome for a job that completed without
// producing any image.
var ErrNoImage = fmt.Errorf("no image produced")

// Input is one job request. Exactly one image source must be set.
type Input struct {
	Source       imaging.Source
	Workflow     interface{} // JSON object or JSON-encoded string; nil uses the default
	InjectImage  bool        // patch the image reference into the workflow
	PreserveSize bool        // resize the result back to the input dimensions
	Quality      *int        // JPEG quality, clamped to 0-100; nil keeps PNG
	Upload       bool        // deliver via object storage instead of inline
}

// Result is a finished job: inline base64 image or a public URL.
type Result struct {
	Job         *jobstore.Job
	ImageBase64 string
	ImageURL    string
}

// Runner executes one job end to end: acquire and normalize the input
// image, resolve the workflow, submit, wait for the completion event,
// extract the result and post-process it.
type Runner struct {
	client     interfaces.RenderClient
	loader     *workflow.Loader
	acquirer   *imaging.Acquirer
	store      interfaces.JobStore
	uploader   interfaces.Uploader
	inputDir   string
	jobTimeout time.Duration
	logger     *logrus.Logger
}

// NewRunner wires a job runner. store and uploader may be nil.
func NewRunner(
	client interfaces.RenderClient,
	loader *workflow.Loader,
	acquirer *imaging.Acquirer,
	store interfaces.JobStore,
	uploader interfaces.Uploader,
	imageCfg config.ImageConfig,
	jobTimeout time.Duration,
) *Runner {
	return &Runner{
		client:     client,
		loader:     loader,
		acquirer:   acquirer,
		store:      store,
		uploader:   uploader,
		inputDir:   imageCfg.InputDir,
		jobTimeout: jobTimeout,
		logger:     config.NewLogger(),
	}
}

// Run executes one job. Failures are classified (see Kind) so the API
// layer can map them to statuses without string matching.
func (r *Runner) Run(ctx context.Context, input Input) (*Result, error) {
	job := jobstore.NewJob()
	r.saveJob(ctx, job)

	result, err := r.run(ctx, job, input)
	if err != nil {
		job.MarkFailed(err.Error())
		r.saveJob(ctx, job)
		return nil, err
	}

	return result, nil
}

func (r *Runner) run(ctx context.Context, job *jobstore.Job, input Input) (*Result, error) {
	log := r.logger.WithField("job_id", job.ID)

	// acquire and normalize the input image before anything remote
	raw, err := r.acquirer.Acquire(ctx, input.Source)
	if err != nil {
		return nil, fail(KindInput, err)
	}

	asset, err := imaging.Normalize(raw)
	if err != nil {
		return nil, fail(KindInput, err)
	}

	// resolve the workflow; a broken bundled default is a deployment
	// problem, not a caller problem
	doc, err := r.loader.Resolve(input.Workflow)
	if err != nil {
		if errors.Is(err, workflow.ErrDefaultUnavailable) {
			return nil, fail(KindInternal, err)
		}
		return nil, fail(KindInput, err)
	}

	// per-job input filename keeps concurrent jobs off each other's file
	inputName := fmt.Sprintf("input_%s.png", job.ID)
	inputPath, err := imaging.SaveInput(r.inputDir, inputName, asset)
	if err != nil {
		return nil, fail(KindInternal, err)
	}
	defer os.Remove(inputPath)

	if input.InjectImage {
		if err := r.loader.InjectImage(doc, inputName); err != nil {
			return nil, fail(KindInput, err)
		}
	}

	if err := r.client.WaitForReady(ctx); err != nil {
		if errors.Is(err, comfyui.ErrServerUnreachable) {
			return nil, fail(KindUnavailable, err)
		}
		return nil, fail(KindInternal, err)
	}

	// fresh client id per job so concurrent jobs cannot observe each
	// other's events
	clientID := uuid.New().String()

	events, err := r.client.OpenEvents(ctx, clientID)
	if err != nil {
		return nil, fail(KindUnavailable, err)
	}
	defer events.Close()

	resp, err := r.client.SubmitWorkflow(ctx, doc, clientID)
	if err != nil {
		return nil, fail(KindRejected, err)
	}

	job.MarkStarted(resp.PromptID, clientID)
	r.saveJob(ctx, job)

	log.WithFields(logrus.Fields{
		"prompt_id": resp.PromptID,
		"client_id": clientID,
	}).Info("Workflow submitted, waiting for completion")

	waitCtx, cancel := context.WithTimeout(ctx, r.jobTimeout)
	defer cancel()

	if err := events.WaitForCompletion(waitCtx, resp.PromptID); err != nil {
		if errors.Is(err, comfyui.ErrJobTimeout) {
			return nil, fail(KindTimeout, err)
		}
		return nil, fail(KindInternal, err)
	}

	imageBytes, err := r.extract(ctx, resp.PromptID)
	if err != nil {
		if errors.Is(err, ErrNoImage) {
			return nil, fail(KindEmpty, err)
		}
		return nil, fail(KindInternal, err)
	}

	processed, err := imaging.PostProcess(imageBytes, imaging.PostProcessOptions{
		PreserveSize: input.PreserveSize,
		Width:        asset.Width,
		Height:       asset.Height,
		Quality:      input.Quality,
	})
	if err != nil {
		return nil, fail(KindInternal, err)
	}

	result := &Result{Job: job}

	if input.Upload && r.uploader != nil {
		url, err := r.uploader.Upload(ctx, resultKey(job.ID, input.Quality), processed, resultContentType(input.Quality))
		if err != nil {
			return nil, fail(KindInternal, fmt.Errorf("failed to upload result: %w", err))
		}
		result.ImageURL = url
		job.MarkCompleted(url)
	} else {
		result.ImageBase64 = base64.StdEncoding.EncodeToString(processed)
		job.MarkCompleted("")
	}

	r.saveJob(ctx, job)
	log.WithField("prompt_id", resp.PromptID).Info("Job completed")

	return result, nil
}

// extract walks the history outputs in ascending node-id order and
// returns the first image of the first node with a non-empty images
// list. All-empty outputs are the distinct no-image outcome.
func (r *Runner) extract(ctx context.Context, promptID string) ([]byte, error) {
	history, err := r.client.GetHistory(ctx, promptID)
	if err != nil {
		return nil, err
	}

	for _, nodeID := range sortedNodeIDs(history.Outputs) {
		images := history.Outputs[nodeID].Images
		if len(images) == 0 {
			continue
		}
		return r.client.GetImage(ctx, images[0])
	}

	return nil, ErrNoImage
}

// sortedNodeIDs orders node keys numerically when possible so result
// selection does not depend on map iteration order.
func sortedNodeIDs(outputs map[string]interfaces.NodeOutput) []string {
	ids := make([]string, 0, len(outputs))
	for id := range outputs {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		if errA == nil && errB == nil {
			return a < b
		}
		if (errA == nil) != (errB == nil) {
			return errA == nil
		}
		return ids[i] < ids[j]
	})

	return ids
}

// saveJob records job state; store failures never fail the job itself.
func (r *Runner) saveJob(ctx context.Context, job *jobstore.Job) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveJob(ctx, job); err != nil {
		r.logger.WithError(err).WithField("job_id", job.ID).Warn("Failed to persist job record")
	}
}

func resultKey(jobID string, quality *int) string {
	if quality != nil {
		return fmt.Sprintf("results/%s.jpg", jobID)
	}
	return fmt.Sprintf("results/%s.png", jobID)
}

func resultContentType(quality *int) string {
	if quality != nil {
		return "image/jpeg"
	}
	return "image/png"
}
