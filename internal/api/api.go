package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"query-classifier/internal/core"
	"query-classifier/internal/database"
	"query-classifier/internal/finetune"
	"query-classifier/internal/messaging"
	"query-classifier/pkg/api"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

const maxTextsPerRequest = 1024

type PredictionService struct {
	db         *gorm.DB
	classifier core.Classifier
	info       api.ModelInfo
	publisher  messaging.Publisher

	// Predictions share the encoder session and tokenizer.
	mu sync.Mutex
}

type configured interface {
	Config() core.ModelConfig
}

// NewPredictionService serves classifier predictions and, when db is not nil,
// the training run registry.
func NewPredictionService(db *gorm.DB, classifier core.Classifier) *PredictionService {
	info := api.ModelInfo{Labels: classifier.Labels().Labels()}
	if c, ok := classifier.(configured); ok {
		cfg := c.Config()
		info.Pretrained = cfg.Pretrained
		info.HiddenSize = cfg.HiddenSize
		info.MaxSeqLen = cfg.MaxSeqLen
	}

	return &PredictionService{db: db, classifier: classifier, info: info}
}

// EnableTraining lets clients queue finetune runs through publisher.
func (s *PredictionService) EnableTraining(publisher messaging.Publisher) {
	s.publisher = publisher
}

func (s *PredictionService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(w http.ResponseWriter, r *http.Request) (any, error) { return nil, nil }))
	r.Get("/model", RestHandler(s.GetModelInfo))
	r.Route("/predict", func(r chi.Router) {
		r.Post("/", RestHandler(s.PredictBatch))
		r.Get("/", RestHandler(s.PredictOne))
	})
	r.Route("/runs", func(r chi.Router) {
		r.Get("/", RestHandler(s.ListRuns))
		r.Post("/", RestHandler(s.SubmitRun))
		r.Get("/{run_id}", RestHandler(s.GetRun))
	})
}

func (s *PredictionService) GetModelInfo(w http.ResponseWriter, r *http.Request) (any, error) {
	return s.info, nil
}

func (s *PredictionService) predict(texts []string) (api.PredictResponse, error) {
	if len(texts) == 0 {
		return api.PredictResponse{}, CodedErrorf(http.StatusUnprocessableEntity, "at least one text is required")
	}
	if len(texts) > maxTextsPerRequest {
		return api.PredictResponse{}, CodedErrorf(http.StatusUnprocessableEntity, "at most %d texts can be classified per request", maxTextsPerRequest)
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return api.PredictResponse{}, CodedErrorf(http.StatusUnprocessableEntity, "text %d is empty", i)
		}
	}

	s.mu.Lock()
	preds, err := s.classifier.Predict(texts)
	s.mu.Unlock()
	if err != nil {
		slog.Error("error running prediction", "texts", len(texts), "error", err)
		return api.PredictResponse{}, CodedErrorf(http.StatusInternalServerError, "error running prediction")
	}

	res := api.PredictResponse{Predictions: make([]api.Prediction, 0, len(preds))}
	for i, p := range preds {
		res.Predictions = append(res.Predictions, api.Prediction{
			Text:  texts[i],
			Index: p.Index,
			Label: p.Label,
			Score: p.Score,
		})
	}
	return res, nil
}

func (s *PredictionService) PredictBatch(w http.ResponseWriter, r *http.Request) (any, error) {
	req, err := ParseRequest[api.PredictRequest](w, r)
	if err != nil {
		return nil, err
	}
	return s.predict(req.Texts)
}

func (s *PredictionService) PredictOne(w http.ResponseWriter, r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[api.PredictParams](r)
	if err != nil {
		return nil, err
	}
	return s.predict([]string{params.Text})
}

func (s *PredictionService) requireDB() error {
	if s.db == nil {
		return CodedErrorf(http.StatusServiceUnavailable, "training run registry is not configured")
	}
	return nil
}

func (s *PredictionService) ListRuns(w http.ResponseWriter, r *http.Request) (any, error) {
	if err := s.requireDB(); err != nil {
		return nil, err
	}

	params, err := ParseRequestQueryParams[api.ListRunsParams](r)
	if err != nil {
		return nil, err
	}
	if params.Limit < 0 {
		return nil, CodedErrorf(http.StatusBadRequest, "limit must be non-negative")
	}

	runs, err := database.ListRuns(r.Context(), s.db, strings.ToUpper(params.Status), params.Limit)
	if err != nil {
		slog.Error("error listing runs", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving training runs")
	}

	return convertRuns(runs), nil
}

func (s *PredictionService) GetRun(w http.ResponseWriter, r *http.Request) (any, error) {
	if err := s.requireDB(); err != nil {
		return nil, err
	}

	runId, err := URLParamUUID(r, "run_id")
	if err != nil {
		return nil, err
	}

	run, err := database.GetRun(r.Context(), s.db, runId)
	if err != nil {
		if errors.Is(err, database.ErrRunNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "training run %s not found", runId)
		}
		slog.Error("error getting run", "run_id", runId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving training run")
	}

	return convertRun(run), nil
}

func overlay[T comparable](dst *T, v T) {
	var zero T
	if v != zero {
		*dst = v
	}
}

func (s *PredictionService) SubmitRun(w http.ResponseWriter, r *http.Request) (any, error) {
	if err := s.requireDB(); err != nil {
		return nil, err
	}
	if s.publisher == nil {
		return nil, CodedErrorf(http.StatusServiceUnavailable, "training is not enabled on this server")
	}

	req, err := ParseRequest[api.SubmitRunRequest](w, r)
	if err != nil {
		return nil, err
	}

	job := finetune.DefaultJob()
	job.DataPath = req.DataPath
	job.TestMode = req.TestMode
	job.ModelOutput = req.ModelOutput
	job.ModelStart = req.ModelStart
	job.ModelPrediction = req.ModelPrediction
	job.Seed = req.Seed
	job.UploadURI = req.UploadURI
	overlay(&job.Epochs, req.Epochs)
	overlay(&job.BatchSize, req.BatchSize)
	overlay(&job.MinEachGroup, req.MinEachGroup)
	overlay(&job.MaxLength, req.MaxLength)
	overlay(&job.TrainFraction, req.TrainFraction)
	overlay(&job.LearningRate, req.LearningRate)

	runId, err := finetune.Submit(r.Context(), s.db, s.publisher, job)
	if err != nil {
		if errors.Is(err, finetune.ErrNoModelToEvaluate) || errors.Is(err, finetune.ErrInvalidJob) {
			return nil, CodedError(http.StatusUnprocessableEntity, err)
		}
		slog.Error("error submitting run", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error queueing training run")
	}

	return api.SubmitRunResponse{RunId: runId}, nil
}
