package server

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/revit3d/WebEnsemble/dataset"
	"github.com/revit3d/WebEnsemble/pkg/errors"
	"github.com/revit3d/WebEnsemble/pkg/log"
	"github.com/revit3d/WebEnsemble/service/config"
	"github.com/revit3d/WebEnsemble/service/storage"
	"github.com/revit3d/WebEnsemble/sklearn/ensemble"
	"github.com/revit3d/WebEnsemble/sklearn/tree"
	"github.com/revit3d/WebEnsemble/visualization"
)

// DefaultEstimators is used when a create request does not set n_estimators.
const DefaultEstimators = 100

type createRequest struct {
	ModelName      string           `json:"model_name" validate:"required,max=128"`
	EnsembleParams *ensemble.Params `json:"ensemble_params"`
	TreeParams     *tree.Config     `json:"tree_params"`
}

type modelView struct {
	ID         string          `json:"id"`
	Name       string          `json:"model_name"`
	Kind       ensemble.Kind   `json:"kind"`
	Params     ensemble.Params `json:"ensemble_params"`
	Status     storage.Status  `json:"status"`
	IsTrained  bool            `json:"is_trained"`
	Target     string          `json:"target_name,omitempty"`
	TrainPath  string          `json:"train_dataset,omitempty"`
	ValPath    string          `json:"val_dataset,omitempty"`
	Features   []string        `json:"features,omitempty"`
	TrainLoss  []float64       `json:"train_loss,omitempty"`
	ValLoss    []float64       `json:"val_loss,omitempty"`
	Error      string          `json:"error,omitempty"`
	FitSeconds float64         `json:"fit_seconds,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func viewOf(rec *storage.Record) modelView {
	return modelView{
		ID:         rec.ID,
		Name:       rec.Name,
		Kind:       rec.Kind,
		Params:     rec.Params,
		Status:     rec.Status,
		IsTrained:  rec.IsTrained(),
		Target:     rec.Target,
		TrainPath:  rec.TrainPath,
		ValPath:    rec.ValPath,
		Features:   rec.Features,
		TrainLoss:  rec.Loss.Train,
		ValLoss:    rec.Loss.Validation,
		Error:      rec.Error,
		FitSeconds: rec.FitSeconds,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
}

type modelStatus struct {
	ID        string `json:"id"`
	Name      string `json:"model_name"`
	IsTrained bool   `json:"is_trained"`
	Target    string `json:"target_name"`
}

func kindOf(c *gin.Context) ensemble.Kind {
	return ensemble.Kind(filepath.Base(c.FullPath()))
}

func (s *Server) createModel(c *gin.Context) {
	kind := kindOf(c)
	params := kind.DefaultParams(DefaultEstimators)
	req := createRequest{EnsembleParams: &params}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := config.Validate(req); err != nil {
		s.fail(c, err)
		return
	}
	if req.EnsembleParams != nil {
		params = *req.EnsembleParams
	}
	if req.TreeParams != nil {
		params.Tree = *req.TreeParams
	}
	if err := params.Validate(); err != nil {
		s.fail(c, err)
		return
	}

	rec := &storage.Record{Name: req.ModelName, Kind: kind, Params: params}
	if err := s.store.Create(c.Request.Context(), rec); err != nil {
		s.fail(c, err)
		return
	}
	s.logger.Info("model created", log.EstimatorIDKey, rec.ID, log.ModelNameKey, string(kind))
	c.JSON(http.StatusCreated, viewOf(rec))
}

func (s *Server) getModel(c *gin.Context) {
	rec, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(rec))
}

func (s *Server) listModels(c *gin.Context) {
	recs, err := s.store.List(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	models := make([]modelStatus, 0, len(recs))
	for i := range recs {
		models = append(models, modelStatus{
			ID:        recs[i].ID,
			Name:      recs[i].Name,
			IsTrained: recs[i].Status == storage.StatusTrained,
			Target:    recs[i].Target,
		})
	}
	c.JSON(http.StatusOK, gin.H{"models": models})
}

func (s *Server) deleteModel(c *gin.Context) {
	id := c.Param("id")
	if err := s.store.Delete(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	if err := os.RemoveAll(s.modelDir(id)); err != nil {
		s.logger.Warn("removing datasets", log.EstimatorIDKey, id, log.ErrAttrKey, err)
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) modelDir(id string) string {
	return filepath.Join(s.opts.DataDir, filepath.Base(id))
}

// readUpload parses the uploaded CSV so that malformed files are rejected
// before anything is stored.
func readUpload(fh *multipart.FileHeader, target string, opts ...dataset.ReadOption) (*dataset.Frame, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, errors.Wrapf(err, "open upload %s", fh.Filename)
	}
	defer f.Close()
	return dataset.ReadCSV(f, target, append([]dataset.ReadOption{dataset.WithSource(fh.Filename)}, opts...)...)
}

func (s *Server) uploadDatasets(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	target := c.Query("target_name")
	if target == "" {
		s.fail(c, errors.NewValidationError("target_name", "query parameter is required", target))
		return
	}

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	if busy(rec) {
		s.fail(c, errBusy(rec))
		return
	}

	trainFile, err := c.FormFile("train_file")
	if err != nil {
		s.fail(c, errors.NewValidationError("train_file", "multipart file is required", err.Error()))
		return
	}
	train, err := readUpload(trainFile, target)
	if err != nil {
		s.fail(c, err)
		return
	}

	valFile, err := c.FormFile("val_file")
	if err != nil && !errors.Is(err, http.ErrMissingFile) {
		s.fail(c, errors.Wrap(err, "val_file"))
		return
	}
	if valFile != nil {
		val, err := readUpload(valFile, target)
		if err != nil {
			s.fail(c, err)
			return
		}
		if _, err := val.Select(train.Columns); err != nil {
			s.fail(c, err)
			return
		}
	}

	dir := s.modelDir(rec.ID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		s.fail(c, errors.Wrap(err, "create dataset directory"))
		return
	}
	trainPath := filepath.Join(dir, "train.csv")
	if err := c.SaveUploadedFile(trainFile, trainPath); err != nil {
		s.fail(c, errors.Wrap(err, "save train_file"))
		return
	}
	valPath := ""
	if valFile != nil {
		valPath = filepath.Join(dir, "val.csv")
		if err := c.SaveUploadedFile(valFile, valPath); err != nil {
			s.fail(c, errors.Wrap(err, "save val_file"))
			return
		}
	}

	rec, err = s.store.Update(ctx, id, func(r *storage.Record) error {
		if busy(r) {
			return errBusy(r)
		}
		r.Target = target
		r.TrainPath = trainPath
		r.ValPath = valPath
		r.Features = train.Columns
		r.Status = storage.StatusReady
		r.Model = nil
		r.Loss = ensemble.Loss{}
		r.Error = ""
		return nil
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	s.logger.Info("datasets uploaded",
		log.EstimatorIDKey, id,
		log.SamplesKey, train.Rows(),
		log.FeaturesKey, len(train.Columns),
	)
	c.JSON(http.StatusOK, viewOf(rec))
}

func busy(rec *storage.Record) bool {
	return rec.Status == storage.StatusQueued || rec.Status == storage.StatusRunning
}

func errBusy(rec *storage.Record) error {
	return errors.NewValidationError("status", "cannot replace datasets while a fit is in progress", rec.Status)
}

func (s *Server) predict(c *gin.Context) {
	fh, err := c.FormFile("test_dataset")
	if err != nil {
		s.fail(c, errors.NewValidationError("test_dataset", "multipart file is required", err.Error()))
		return
	}
	f, err := fh.Open()
	if err != nil {
		s.fail(c, errors.Wrap(err, "open test_dataset"))
		return
	}
	defer f.Close()

	pred, err := s.runner.Predict(c.Request.Context(), c.Param("id"), f)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"y_preds": pred.RawVector().Data})
}

func (s *Server) lossPlot(c *gin.Context) {
	rec, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if !rec.IsTrained() {
		s.fail(c, errors.NewNotFittedError(rec.Name, "loss"))
		return
	}

	curves := []visualization.Curve{{Name: "train", Values: rec.Loss.Train}}
	if len(rec.Loss.Validation) > 0 {
		curves = append(curves, visualization.Curve{Name: "validation", Values: rec.Loss.Validation})
	}
	var buf bytes.Buffer
	if err := visualization.WriteLossPlot(&buf, "png", rec.Name, curves...); err != nil {
		s.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}
