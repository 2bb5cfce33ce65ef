package finetune

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"query-classifier/internal/core"
	"query-classifier/internal/core/batch"
	"query-classifier/internal/core/dataset"
	"query-classifier/internal/database"
	"query-classifier/internal/storage"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrNoModelToEvaluate is returned for a test run without a starting model.
	ErrNoModelToEvaluate = errors.New("test mode requires a model to evaluate")

	ErrInvalidJob = errors.New("invalid finetune job")
)

const (
	headDropout           = 0.1
	defaultPredictionPath = "prediction/predictions.csv"
)

type Job struct {
	DataPath        string
	Epochs          int
	BatchSize       int
	MinEachGroup    int
	MaxLength       int
	TestMode        bool
	ModelOutput     string
	ModelStart      string
	ModelPrediction string
	Pretrained      string
	TrainFraction   float64
	LearningRate    float64
	Seed            int64
	UploadURI       string
}

// DefaultJob returns a job with the command line defaults.
func DefaultJob() Job {
	return Job{
		Epochs:        30,
		BatchSize:     64,
		MinEachGroup:  3,
		MaxLength:     30,
		TrainFraction: 0.7,
		LearningRate:  1e-3,
	}
}

func (j Job) validate() error {
	if j.DataPath == "" {
		return fmt.Errorf("%w: data path is required", ErrInvalidJob)
	}
	if j.TestMode {
		return nil
	}
	if j.ModelOutput == "" {
		return fmt.Errorf("%w: model output directory is required", ErrInvalidJob)
	}
	if j.Epochs < 0 {
		return fmt.Errorf("%w: epochs must be non-negative, got %d", ErrInvalidJob, j.Epochs)
	}
	if j.BatchSize < 1 {
		return fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidJob, j.BatchSize)
	}
	if j.LearningRate <= 0 {
		return fmt.Errorf("%w: learning rate must be positive, got %g", ErrInvalidJob, j.LearningRate)
	}
	return nil
}

type Result struct {
	RunId        uuid.UUID
	Labels       []string
	TrainSize    int
	ValSize      int
	TestSize     int
	History      []core.EpochStats
	Predictions  []core.PredictionRow
	TestAccuracy *float64
}

type Processor struct {
	db            *gorm.DB
	store         storage.ObjectStore
	loaders       core.Loaders
	maxSeqLen     int
	encoderOutput string
	workers       int
	scratchDir    string
	showProgress  bool
	pretrained    string
}

type Options struct {
	// DB records training runs when set.
	DB *gorm.DB
	// Store resolves s3:// model uris when set.
	Store         storage.ObjectStore
	Loaders       core.Loaders
	MaxSeqLen     int
	EncoderOutput string
	Workers       int
	ScratchDir    string
	ShowProgress  bool
	// Pretrained is used for jobs that name neither a pretrained nor a
	// starting model.
	Pretrained string
}

func NewProcessor(opts Options) *Processor {
	scratch := opts.ScratchDir
	if scratch == "" {
		scratch = filepath.Join(os.TempDir(), "query-classifier")
	}
	return &Processor{
		db:            opts.DB,
		store:         opts.Store,
		loaders:       opts.Loaders,
		maxSeqLen:     opts.MaxSeqLen,
		encoderOutput: opts.EncoderOutput,
		workers:       max(1, opts.Workers),
		scratchDir:    scratch,
		showProgress:  opts.ShowProgress,
		pretrained:    opts.Pretrained,
	}
}

// prepare checks job and fills in the seed so the stored run is reproducible.
func prepare(job Job) (Job, error) {
	if job.TestMode && job.ModelStart == "" {
		return job, ErrNoModelToEvaluate
	}
	if err := job.validate(); err != nil {
		return job, err
	}
	if job.Seed == 0 {
		job.Seed = time.Now().UnixNano()
	}
	return job, nil
}

func createRun(ctx context.Context, db *gorm.DB, job Job, status string) (uuid.UUID, error) {
	runId := uuid.New()
	if db == nil {
		return runId, nil
	}

	baseModel := job.Pretrained
	if job.ModelStart != "" {
		baseModel = job.ModelStart
	}

	run := database.TrainingRun{
		Id:            runId,
		DataPath:      job.DataPath,
		BaseModel:     baseModel,
		OutputDir:     job.ModelOutput,
		TestMode:      job.TestMode,
		Epochs:        job.Epochs,
		BatchSize:     job.BatchSize,
		LearningRate:  job.LearningRate,
		MinEachGroup:  job.MinEachGroup,
		MaxLength:     job.MaxLength,
		TrainFraction: job.TrainFraction,
		Seed:          job.Seed,
		Status:        status,
	}
	if err := database.CreateRun(ctx, db, &run); err != nil {
		return uuid.Nil, err
	}
	return runId, nil
}

func (proc *Processor) failRun(ctx context.Context, runId uuid.UUID, cause error) {
	if proc.db == nil {
		return
	}
	// The run is recorded even when ctx was cancelled.
	database.FailRun(context.WithoutCancel(ctx), proc.db, runId, cause) //nolint:errcheck
}

// resolveModelDir returns a local directory for uri, downloading it first when
// it points into object storage.
func (proc *Processor) resolveModelDir(ctx context.Context, runId uuid.UUID, uri string) (string, error) {
	if !storage.IsS3URI(uri) {
		return uri, nil
	}
	if proc.store == nil {
		return "", fmt.Errorf("model %s is in object storage but no store is configured", uri)
	}

	loc, err := storage.ParseURI(uri)
	if err != nil {
		return "", err
	}

	localDir := filepath.Join(proc.scratchDir, runId.String(), "start")
	slog.Info("downloading model", "uri", uri, "dir", localDir)
	if err := proc.store.DownloadDir(ctx, loc.Bucket, loc.Prefix, localDir, true); err != nil {
		return "", fmt.Errorf("failed to download model from %s: %w", uri, err)
	}
	return localDir, nil
}

func (proc *Processor) publish(ctx context.Context, uri, dir string) error {
	if proc.store == nil {
		return fmt.Errorf("cannot upload to %s: no object store is configured", uri)
	}
	loc, err := storage.ParseURI(uri)
	if err != nil {
		return err
	}
	if err := proc.store.CreateBucket(ctx, loc.Bucket); err != nil {
		return err
	}
	if err := proc.store.UploadDir(ctx, loc.Bucket, loc.Prefix, dir); err != nil {
		return fmt.Errorf("error uploading model to %s: %w", uri, err)
	}
	slog.Info("model uploaded", "uri", loc.String())
	return nil
}

// Run records a new run and executes job to completion.
func (proc *Processor) Run(ctx context.Context, job Job) (Result, error) {
	job, err := prepare(job)
	if err != nil {
		return Result{}, err
	}

	runId, err := createRun(ctx, proc.db, job, database.RunTraining)
	if err != nil {
		return Result{}, err
	}

	return proc.execute(ctx, runId, job)
}

func (proc *Processor) execute(ctx context.Context, runId uuid.UUID, job Job) (Result, error) {
	slog.Info("processing finetune job", "run_id", runId, "data_path", job.DataPath, "test_mode", job.TestMode)

	var res Result
	var err error
	if job.TestMode {
		res, err = proc.evaluate(ctx, runId, job)
	} else {
		res, err = proc.train(ctx, runId, job)
	}
	res.RunId = runId

	if err != nil {
		slog.Error("finetune job failed", "run_id", runId, "error", err)
		proc.failRun(ctx, runId, err)
		return res, err
	}

	if proc.db != nil {
		if err := database.CompleteRun(ctx, proc.db, runId, res.TestAccuracy); err != nil {
			return res, fmt.Errorf("error updating run status after finetuning: %w", err)
		}
	}

	slog.Info("finetune job completed", "run_id", runId)
	return res, nil
}

func (proc *Processor) train(ctx context.Context, runId uuid.UUID, job Job) (Result, error) {
	records, labeled, err := dataset.ReadRecordsFile(job.DataPath)
	if err != nil {
		return Result{}, err
	}
	if !labeled {
		return Result{}, fmt.Errorf("%s has no '%s' column to train on", job.DataPath, dataset.LabelColumn)
	}

	records = dataset.Preprocess(records, job.MinEachGroup, job.MaxLength)
	if len(records) == 0 {
		return Result{}, fmt.Errorf("no records left after preprocessing %s", job.DataPath)
	}

	labels := dataset.NewLabelIndex(records)
	examples, err := labels.Reindex(records)
	if err != nil {
		return Result{}, err
	}

	rng := rand.New(rand.NewSource(job.Seed))
	splits, err := dataset.Split(examples, job.TrainFraction, rng)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Labels:    labels.Labels(),
		TrainSize: len(splits.Train),
		ValSize:   len(splits.Val),
		TestSize:  len(splits.Test),
	}

	if proc.db != nil {
		if err := database.SetRunSplits(ctx, proc.db, runId, res.Labels, res.TrainSize, res.ValSize, res.TestSize); err != nil {
			return res, err
		}
	}

	startDir := job.Pretrained
	if startDir == "" {
		startDir = proc.pretrained
	}
	if job.ModelStart != "" {
		if startDir, err = proc.resolveModelDir(ctx, runId, job.ModelStart); err != nil {
			return res, err
		}
	}

	classifier, err := core.LoadClassifier(startDir, proc.loaders, core.LoadOptions{
		Labels:        labels,
		MaxSeqLen:     proc.maxSeqLen,
		EncoderOutput: proc.encoderOutput,
		Dropout:       headDropout,
		Rng:           rng,
	})
	if err != nil {
		return res, fmt.Errorf("error loading model from %s: %w", startDir, err)
	}
	defer classifier.Release()

	tokenizer := classifier.Tokenizer()
	trainSet, err := batch.NewQueryDataset(batch.Train, splits.Train, tokenizer, proc.workers)
	if err != nil {
		return res, err
	}
	valSet, err := batch.NewQueryDataset(batch.Val, splits.Val, tokenizer, proc.workers)
	if err != nil {
		return res, err
	}
	testSet, err := batch.NewQueryDataset(batch.Test, splits.Test, tokenizer, proc.workers)
	if err != nil {
		return res, err
	}

	trainLoader, err := batch.NewLoader(trainSet, job.BatchSize, true, rng)
	if err != nil {
		return res, err
	}
	valLoader, err := batch.NewLoader(valSet, job.BatchSize, false, nil)
	if err != nil {
		return res, err
	}
	testLoader, err := batch.NewLoader(testSet, job.BatchSize, false, nil)
	if err != nil {
		return res, err
	}

	trainer := core.NewTrainer(classifier, job.LearningRate, job.Epochs, rng)
	trainer.ShowProgress = proc.showProgress
	if proc.db != nil {
		trainer.Observer = NewRunRecorder(proc.db, runId)
	}

	if res.History, err = trainer.Train(ctx, trainLoader, valLoader); err != nil {
		return res, fmt.Errorf("error finetuning model: %w", err)
	}

	if err := classifier.Save(job.ModelOutput); err != nil {
		return res, fmt.Errorf("error saving model: %w", err)
	}

	if job.UploadURI != "" {
		if err := proc.publish(ctx, job.UploadURI, job.ModelOutput); err != nil {
			return res, err
		}
	}

	preds, _, err := core.GetPredictions(classifier, testLoader, false)
	if err != nil {
		return res, fmt.Errorf("error predicting test split: %w", err)
	}

	gold := make([]int, len(splits.Test))
	res.Predictions = make([]core.PredictionRow, len(splits.Test))
	for i, ex := range splits.Test {
		gold[i] = ex.Label
		row, err := predictionRow(labels, ex.Text, preds[i])
		if err != nil {
			return res, err
		}
		row.Label, _ = labels.Label(ex.Label)
		res.Predictions[i] = row
	}

	if len(gold) > 0 {
		acc, err := core.PlainAccuracy(gold, preds)
		if err != nil {
			return res, err
		}
		res.TestAccuracy = &acc
	}

	if job.ModelPrediction != "" {
		if err := core.WritePredictions(job.ModelPrediction, res.Predictions); err != nil {
			return res, err
		}
	}

	return res, nil
}

// evaluate predicts every record of the data file with a saved model. No
// filtering is applied; accuracy is reported when the file has labels.
func (proc *Processor) evaluate(ctx context.Context, runId uuid.UUID, job Job) (Result, error) {
	modelDir, err := proc.resolveModelDir(ctx, runId, job.ModelStart)
	if err != nil {
		return Result{}, err
	}

	classifier, err := core.LoadClassifier(modelDir, proc.loaders, core.LoadOptions{
		MaxSeqLen:     proc.maxSeqLen,
		EncoderOutput: proc.encoderOutput,
	})
	if err != nil {
		return Result{}, fmt.Errorf("error loading model from %s: %w", modelDir, err)
	}
	defer classifier.Release()

	records, labeled, err := dataset.ReadRecordsFile(job.DataPath)
	if err != nil {
		return Result{}, err
	}

	labels := classifier.Labels()
	res := Result{Labels: labels.Labels(), TestSize: len(records)}

	if proc.db != nil {
		if err := database.SetRunSplits(ctx, proc.db, runId, res.Labels, 0, 0, res.TestSize); err != nil {
			return res, err
		}
	}

	examples := make([]dataset.Example, len(records))
	for i, r := range records {
		examples[i] = dataset.Example{Text: r.Question}
	}

	testSet, err := batch.NewQueryDataset(batch.Test, examples, classifier.Tokenizer(), proc.workers)
	if err != nil {
		return res, err
	}
	batchSize := job.BatchSize
	if batchSize < 1 {
		batchSize = 64
	}
	testLoader, err := batch.NewLoader(testSet, batchSize, false, nil)
	if err != nil {
		return res, err
	}

	preds, _, err := core.GetPredictions(classifier, testLoader, false)
	if err != nil {
		return res, fmt.Errorf("error predicting %s: %w", job.DataPath, err)
	}

	gold := make([]string, len(records))
	predicted := make([]string, len(records))
	res.Predictions = make([]core.PredictionRow, len(records))
	for i, r := range records {
		row, err := predictionRow(labels, r.Question, preds[i])
		if err != nil {
			return res, err
		}
		if labeled {
			row.Label = r.Label
		}
		gold[i] = row.Label
		predicted[i] = row.PredictedLabel
		res.Predictions[i] = row
	}

	if labeled && len(records) > 0 {
		acc, err := core.PlainAccuracy(gold, predicted)
		if err != nil {
			return res, err
		}
		res.TestAccuracy = &acc
	}

	out := job.ModelPrediction
	if out == "" {
		out = defaultPredictionPath
	}
	if err := core.WritePredictions(out, res.Predictions); err != nil {
		return res, err
	}

	return res, nil
}

func predictionRow(labels *dataset.LabelIndex, text string, pred int) (core.PredictionRow, error) {
	label, err := labels.Label(pred)
	if err != nil {
		return core.PredictionRow{}, err
	}
	return core.PredictionRow{Question: text, PredictedIndex: pred, PredictedLabel: label}, nil
}
