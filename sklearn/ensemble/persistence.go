package ensemble

import (
	"bytes"

	"github.com/revit3d/WebEnsemble/core/model"
	"github.com/revit3d/WebEnsemble/pkg/errors"
)

// snapshot is the gob form of either ensemble.
type snapshot struct {
	Kind     Kind
	Params   Params
	State    model.ModelState
	Forest   []ForestMember
	Boosting []BoostingMember
}

func (rf *RandomForestMSE) snapshot() snapshot {
	return snapshot{Kind: KindRandomForest, Params: rf.params, State: rf.state.GetState(), Forest: rf.members}
}

func (gb *GradientBoostingMSE) snapshot() snapshot {
	return snapshot{Kind: KindGradientBoosting, Params: gb.params, State: gb.state.GetState(), Boosting: gb.members}
}

func encode(s snapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := model.SaveModelToWriter(s, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte) (snapshot, error) {
	var s snapshot
	if err := model.LoadModelFromReader(&s, bytes.NewReader(data)); err != nil {
		return snapshot{}, err
	}
	return s, nil
}

func (s snapshot) check(want Kind) error {
	if s.Kind != want {
		return errors.NewValidationError("kind", "blob holds another ensemble kind", s.Kind)
	}
	members := len(s.Forest) + len(s.Boosting)
	if s.State.Fitted && members != s.Params.NEstimators {
		return errors.NewModelError("ensemble.decode", "member count does not match n_estimators", nil)
	}
	return nil
}

// MarshalBinary encodes the hyperparameters and the fitted members.
func (rf *RandomForestMSE) MarshalBinary() ([]byte, error) { return encode(rf.snapshot()) }

// MarshalBinary encodes the hyperparameters and the fitted members.
func (gb *GradientBoostingMSE) MarshalBinary() ([]byte, error) { return encode(gb.snapshot()) }

// UnmarshalBinary restores a forest encoded by MarshalBinary.
func (rf *RandomForestMSE) UnmarshalBinary(data []byte) error {
	s, err := decode(data)
	if err != nil {
		return err
	}
	if err := s.check(KindRandomForest); err != nil {
		return err
	}
	rf.restore(s)
	return nil
}

func (rf *RandomForestMSE) restore(s snapshot) {
	rf.base = newBase("RandomForestMSE", s.Params.NEstimators, s.Params, nil)
	rf.members = s.Forest
	rf.state.SetState(s.State)
}

// UnmarshalBinary restores a booster encoded by MarshalBinary.
func (gb *GradientBoostingMSE) UnmarshalBinary(data []byte) error {
	s, err := decode(data)
	if err != nil {
		return err
	}
	if err := s.check(KindGradientBoosting); err != nil {
		return err
	}
	gb.restore(s)
	return nil
}

func (gb *GradientBoostingMSE) restore(s snapshot) {
	gb.base = newBase("GradientBoostingMSE", s.Params.NEstimators, s.Params, nil)
	gb.members = s.Boosting
	gb.state.SetState(s.State)
}

// Load restores an ensemble of either kind from a MarshalBinary blob.
func Load(data []byte) (Ensemble, error) {
	s, err := decode(data)
	if err != nil {
		return nil, err
	}
	return fromSnapshot(s)
}

// Save writes e to filename in the same format as MarshalBinary.
func Save(e Ensemble, filename string) error {
	s, err := snapshotOf(e)
	if err != nil {
		return err
	}
	return model.SaveModel(s, filename)
}

// LoadFile reads an ensemble written by Save.
func LoadFile(filename string) (Ensemble, error) {
	var s snapshot
	if err := model.LoadModel(&s, filename); err != nil {
		return nil, err
	}
	return fromSnapshot(s)
}

func fromSnapshot(s snapshot) (Ensemble, error) {
	if _, err := ParseKind(string(s.Kind)); err != nil {
		return nil, err
	}
	if err := s.check(s.Kind); err != nil {
		return nil, err
	}
	if s.Kind == KindGradientBoosting {
		gb := &GradientBoostingMSE{}
		gb.restore(s)
		return gb, nil
	}
	rf := &RandomForestMSE{}
	rf.restore(s)
	return rf, nil
}

func snapshotOf(e Ensemble) (snapshot, error) {
	switch v := e.(type) {
	case *RandomForestMSE:
		return v.snapshot(), nil
	case *GradientBoostingMSE:
		return v.snapshot(), nil
	default:
		return snapshot{}, errors.Newf("ensemble: cannot save %T", e)
	}
}
