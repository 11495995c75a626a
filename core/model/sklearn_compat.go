package model

import (
	"fmt"
	"math"

	"github.com/YuminosukeSato/boxoffice/pkg/errors"
)

// Params はハイパーパラメータ名から値へのマップ
type Params map[string]interface{}

// SKLearnCompatible はscikit-learn互換のインターフェース
type SKLearnCompatible interface {
	// GetParams はモデルのハイパーパラメータを取得
	GetParams(deep bool) map[string]interface{}

	// SetParams はモデルのハイパーパラメータを設定
	SetParams(params map[string]interface{}) error

	// Clone はモデルの新しい未学習インスタンスを同じパラメータで作成
	Clone() SKLearnCompatible
}

// SearchableEstimator はグリッドサーチ可能なモデル
type SearchableEstimator interface {
	Estimator
	SKLearnCompatible
}

// IntParam はパラメータ値をintに変換する。
// YAMLやJSON由来の float64、int64 も整数値であれば受け付ける。
// nil は "None" を表し、0 として扱う（max_depth など）。
func IntParam(name string, value interface{}) (int, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case uint64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, errors.NewValidationError(name, "must be an integer", v)
		}
		return int(v), nil
	default:
		return 0, errors.NewValidationError(name, fmt.Sprintf("unsupported type %T", value), value)
	}
}

// BoolParam はパラメータ値をboolに変換する。
func BoolParam(name string, value interface{}) (bool, error) {
	b, ok := value.(bool)
	if !ok {
		return false, errors.NewValidationError(name, fmt.Sprintf("unsupported type %T", value), value)
	}
	return b, nil
}
