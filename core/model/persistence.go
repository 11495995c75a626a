package model

import (
	"bufio"
	"encoding/gob"
	"io"
	"os"
	"path/filepath"

	"github.com/YuminosukeSato/boxoffice/pkg/errors"
)

// SaveModel はモデルをgob形式でファイルに保存する。
// 一時ファイルへ書き込んでからリネームするため、途中で失敗しても
// 既存のファイルは壊れない。
//
// 使用例:
//
//	rf := ensemble.NewRandomForestRegressor()
//	// ... モデルの学習 ...
//	err := model.SaveModel(rf, "randomforest_model.gob")
func SaveModel(m interface{}, filename string) (err error) {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create model directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(filename)+".tmp-*")
	if err != nil {
		return errors.Wrapf(err, "create temp file for %s", filename)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriter(tmp)
	if err = SaveModelToWriter(m, bw); err != nil {
		return err
	}
	if err = bw.Flush(); err != nil {
		return errors.Wrapf(err, "write model %s", filename)
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrapf(err, "close model %s", filename)
	}
	if err = os.Rename(tmp.Name(), filename); err != nil {
		return errors.Wrapf(err, "rename model to %s", filename)
	}
	return nil
}

// LoadModel はファイルからモデルを読み込む。model はポインタであること。
func LoadModel(m interface{}, filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return errors.Wrapf(err, "open model %s", filename)
	}
	defer file.Close()

	if err := LoadModelFromReader(m, bufio.NewReader(file)); err != nil {
		return errors.Wrapf(err, "load model %s", filename)
	}
	return nil
}

// SaveModelToWriter はモデルをio.Writerに保存する
func SaveModelToWriter(m interface{}, w io.Writer) error {
	if err := gob.NewEncoder(w).Encode(m); err != nil {
		return errors.Wrap(err, "failed to encode model")
	}
	return nil
}

// LoadModelFromReader はio.Readerからモデルを読み込む
func LoadModelFromReader(m interface{}, r io.Reader) error {
	if err := gob.NewDecoder(r).Decode(m); err != nil {
		return errors.Wrap(err, "failed to decode model")
	}
	return nil
}
