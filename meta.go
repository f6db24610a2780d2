package quadb

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	"github.com/Masterminds/semver/v3"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/liliang-cn/quadb/internal/encoding"
	"github.com/liliang-cn/quadb/pkg/kv"
)

const (
	// layoutVersion is the on-disk layout written to new indexes.
	layoutVersion = "1.0.0"
	// layoutConstraint is the range of stored layouts this code can read.
	layoutConstraint = "^1.0.0"
)

const (
	metaDims       = "dims"
	metaBits       = "bits"
	metaResolution = "resolution"
	metaOrigin     = "origin"
	metaCodec      = "codec"
	metaVersionKey = "version"
	metaID         = "id"
)

func metaTable(table string) string { return table + "_meta" }

type metaEntry struct {
	key   string
	value []byte
	show  string
}

// metaEntries returns the settings that must not change once a database holds points.
func (ix *Index[E]) metaEntries() ([]metaEntry, error) {
	origin := ix.config.Origin
	if origin == nil {
		origin = make([]float64, ix.config.Dimensions)
	}
	originRaw, err := encoding.EncodeFloats(origin)
	if err != nil {
		return nil, err
	}
	resRaw, err := encoding.EncodeFloats([]float64{ix.config.Resolution})
	if err != nil {
		return nil, err
	}

	dims := strconv.Itoa(ix.config.Dimensions)
	bits := strconv.Itoa(ix.curve.Bits())
	return []metaEntry{
		{metaDims, []byte(dims), dims},
		{metaBits, []byte(bits), bits},
		{metaResolution, resRaw, fmt.Sprint(ix.config.Resolution)},
		{metaOrigin, originRaw, fmt.Sprint(origin)},
		{metaCodec, []byte(ix.codec.Name()), ix.codec.Name()},
	}, nil
}

// loadMeta writes the metadata of a new index, or checks it against the configuration of an
// existing one, and returns the index id.
func (ix *Index[E]) loadMeta(ctx context.Context) (string, error) {
	want, err := ix.metaEntries()
	if err != nil {
		return "", serializationError(err, "failed to encode metadata")
	}

	tx, err := ix.store.BeginWrite(ctx)
	if err != nil {
		return "", storageError(err)
	}
	defer func() { _ = tx.Rollback() }()

	tbl, err := tx.Table(metaTable(ix.config.Table))
	if err != nil {
		return "", storageError(err)
	}

	rawID, found, err := tbl.Get([]byte(metaID))
	if err != nil {
		return "", storageError(err)
	}

	if !found {
		id := uuid.NewString()
		for _, m := range want {
			if err := tbl.Insert([]byte(m.key), m.value); err != nil {
				return "", storageError(err)
			}
		}
		if err := tbl.Insert([]byte(metaVersionKey), []byte(layoutVersion)); err != nil {
			return "", storageError(err)
		}
		if err := tbl.Insert([]byte(metaID), []byte(id)); err != nil {
			return "", storageError(err)
		}
		if err := tx.Commit(); err != nil {
			return "", storageError(err)
		}
		ix.logger.Info("index created", "index", id)
		return id, nil
	}

	id, err := uuid.ParseBytes(rawID)
	if err != nil {
		return "", serializationError(err, "failed to parse index id")
	}

	if err := checkLayout(tbl); err != nil {
		return "", err
	}

	for _, m := range want {
		got, ok, err := tbl.Get([]byte(m.key))
		if err != nil {
			return "", storageError(err)
		}
		if !ok {
			return "", errors.Mark(errors.Newf("metadata %q is missing", m.key), ErrInvalidConfig)
		}
		if !bytes.Equal(got, m.value) {
			return "", errors.Mark(
				errors.Newf("%s is %s in the database, configuration has %s", m.key, showMeta(m.key, got), m.show),
				ErrInvalidConfig)
		}
	}
	return id.String(), nil
}

// checkLayout refuses databases written with an incompatible layout version.
func checkLayout(tbl kv.Table) error {
	raw, ok, err := tbl.Get([]byte(metaVersionKey))
	if err != nil {
		return storageError(err)
	}
	if !ok {
		return errors.Mark(errors.New("metadata \"version\" is missing"), ErrInvalidConfig)
	}

	stored, err := semver.NewVersion(string(raw))
	if err != nil {
		return serializationError(err, "invalid layout version %q", raw)
	}
	constraint, err := semver.NewConstraint(layoutConstraint)
	if err != nil {
		return err
	}
	if !constraint.Check(stored) {
		return errors.Mark(
			errors.Newf("database layout %s is not readable, supported layouts are %s", stored, layoutConstraint),
			ErrInvalidConfig)
	}
	return nil
}

func showMeta(key string, raw []byte) string {
	switch key {
	case metaResolution:
		if v, err := encoding.DecodeFloats(raw); err == nil && len(v) == 1 {
			return fmt.Sprint(v[0])
		}
	case metaOrigin:
		if v, err := encoding.DecodeFloats(raw); err == nil {
			return fmt.Sprint(v)
		}
	default:
		return string(raw)
	}
	return fmt.Sprintf("%x", raw)
}
