package ensemble

import (
	"github.com/YuminosukeSato/boxoffice/core/model"
	"github.com/YuminosukeSato/boxoffice/pkg/errors"
)

// GetParams returns the parameters of the regressor
func (rf *RandomForestRegressor) GetParams(deep bool) map[string]interface{} {
	return map[string]interface{}{
		"n_estimators":      rf.NEstimators,
		"max_depth":         rf.MaxDepth,
		"min_samples_split": rf.MinSamplesSplit,
		"min_samples_leaf":  rf.MinSamplesLeaf,
		"max_features":      rf.MaxFeatures,
		"bootstrap":         rf.Bootstrap,
		"random_state":      rf.RandomState,
		"n_jobs":            rf.NJobs,
	}
}

// SetParams sets the parameters of the regressor. Integer parameters
// accept whole float64 values as produced by YAML and JSON decoders.
func (rf *RandomForestRegressor) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var err error
		switch key {
		case "n_estimators":
			rf.NEstimators, err = model.IntParam(key, value)
		case "max_depth":
			rf.MaxDepth, err = model.IntParam(key, value)
		case "min_samples_split":
			rf.MinSamplesSplit, err = model.IntParam(key, value)
		case "min_samples_leaf":
			rf.MinSamplesLeaf, err = model.IntParam(key, value)
		case "max_features":
			rf.MaxFeatures, err = model.IntParam(key, value)
		case "bootstrap":
			rf.Bootstrap, err = model.BoolParam(key, value)
		case "random_state":
			var seed int
			seed, err = model.IntParam(key, value)
			rf.RandomState = uint64(seed)
		case "n_jobs":
			rf.NJobs, err = model.IntParam(key, value)
		default:
			return errors.NewValidationError(key, "unknown parameter for RandomForestRegressor", value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Clone returns an unfitted forest with the same parameters.
func (rf *RandomForestRegressor) Clone() model.SKLearnCompatible {
	return &RandomForestRegressor{
		NEstimators:     rf.NEstimators,
		MaxDepth:        rf.MaxDepth,
		MinSamplesSplit: rf.MinSamplesSplit,
		MinSamplesLeaf:  rf.MinSamplesLeaf,
		MaxFeatures:     rf.MaxFeatures,
		Bootstrap:       rf.Bootstrap,
		RandomState:     rf.RandomState,
		NJobs:           rf.NJobs,
		State:           model.NewStateManager(),
	}
}
