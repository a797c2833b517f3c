// Package genesis loads, validates, and applies the canvas creation manifest.
//
// The manifest is the single authority for a canvas's immutable parameters.
// It is read once on first boot; on later boots the stored canvas wins and
// the manifest is only checked for contradictions.
package genesis

import (
	"bytes"
	_ "embed"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	apperrors "github.com/mosaicforge/tessella/internal/platform/errors"
	"github.com/mosaicforge/tessella/internal/services/canvas/domain/grid"
	"github.com/mosaicforge/tessella/internal/services/canvas/domain/incentive"
	"github.com/mosaicforge/tessella/internal/services/canvas/domain/participant"
	"github.com/mosaicforge/tessella/internal/services/canvas/domain/record"
	"github.com/mosaicforge/tessella/internal/services/canvas/storage"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "https://mosaicforge.dev/tessella/genesis.schema.json"

// Manifest is the parsed genesis document.
type Manifest struct {
	Width         uint32        `json:"width"`
	Height        uint32        `json:"height"`
	SeedPayload   uint32        `json:"seed_payload"`
	IDCapacity    uint16        `json:"id_capacity"`
	Administrator string        `json:"administrator"`
	Exclusive     bool          `json:"exclusive"`
	Award         AwardConfig   `json:"award"`
	Tribute       TributeConfig `json:"tribute"`
	Overpayment   string        `json:"overpayment"`
	Freeze        FreezeConfig  `json:"freeze"`
	Limits        LimitsConfig  `json:"limits"`
}

// AwardConfig selects and parameterizes the cred policy.
type AwardConfig struct {
	Policy      string `json:"policy"`
	BaseCred    uint64 `json:"base_cred"`
	DecayFactor uint64 `json:"decay_factor"`
}

// TributeConfig prices edits on previously written cells.
type TributeConfig struct {
	Enabled  bool   `json:"enabled"`
	Base     uint64 `json:"base"`
	PerLayer uint64 `json:"per_layer"`
}

// FreezeConfig sets the canvas's terminal conditions.
type FreezeConfig struct {
	Threshold   uint64 `json:"threshold"`
	Deadline    uint32 `json:"deadline"`
	AdminExempt bool   `json:"admin_exempt"`
}

// LimitsConfig bounds single requests.
type LimitsConfig struct {
	MaxBatchCells int `json:"max_batch_cells"`
}

// Load reads and validates a manifest file.
func Load(path string) (Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, apperrors.Wrap(apperrors.CodeInvalidArgument, "read genesis manifest", err)
	}
	return Parse(raw)
}

// Parse validates raw manifest bytes against the embedded schema and decodes
// them.
func Parse(raw []byte) (Manifest, error) {
	schemaDoc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return Manifest{}, apperrors.Wrap(apperrors.CodeInternal, "decode embedded genesis schema", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, schemaDoc); err != nil {
		return Manifest{}, apperrors.Wrap(apperrors.CodeInternal, "register genesis schema", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return Manifest{}, apperrors.Wrap(apperrors.CodeInternal, "compile genesis schema", err)
	}

	document, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return Manifest{}, apperrors.Wrap(apperrors.CodeInvalidArgument, "decode genesis manifest", err)
	}
	if err := schema.Validate(document); err != nil {
		return Manifest{}, apperrors.Wrap(apperrors.CodeInvalidArgument, "genesis manifest rejected by schema", err)
	}

	manifest := Manifest{
		SeedPayload: 0,
		IDCapacity:  participant.DefaultCapacity,
		Overpayment: string(incentive.OverpaymentRefund),
		Limits:      LimitsConfig{MaxBatchCells: 256},
	}
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return Manifest{}, apperrors.Wrap(apperrors.CodeInvalidArgument, "decode genesis manifest", err)
	}
	if manifest.IDCapacity == 0 {
		manifest.IDCapacity = participant.DefaultCapacity
	}
	if manifest.Overpayment == "" {
		manifest.Overpayment = string(incentive.OverpaymentRefund)
	}
	if manifest.Limits.MaxBatchCells == 0 {
		manifest.Limits.MaxBatchCells = 256
	}
	if err := manifest.Validate(); err != nil {
		return Manifest{}, err
	}
	return manifest, nil
}

// Validate applies the domain constraints the schema cannot express.
func (m Manifest) Validate() error {
	geometry := grid.Geometry{Width: m.Width, Height: m.Height}
	if err := geometry.Validate(); err != nil {
		return err
	}
	if m.SeedPayload == record.ReservedPayload {
		return apperrors.New(apperrors.CodeInvalidArgument,
			fmt.Sprintf("seed payload %d is reserved", m.SeedPayload))
	}
	if _, err := participant.NormalizeIdentity(m.Administrator); err != nil {
		return err
	}
	params := incentive.Params{
		Policy:          incentive.Policy(m.Award.Policy),
		BaseCred:        m.Award.BaseCred,
		DecayFactor:     m.Award.DecayFactor,
		TributeEnabled:  m.Tribute.Enabled,
		BaseTribute:     m.Tribute.Base,
		TributePerLayer: m.Tribute.PerLayer,
	}
	if err := params.Validate(); err != nil {
		return err
	}
	if _, err := incentive.ParseOverpayment(m.Overpayment); err != nil {
		return err
	}
	if m.Limits.MaxBatchCells < 1 {
		return apperrors.New(apperrors.CodeInvalidArgument, "max batch cells must be positive")
	}
	return nil
}

// ToMeta converts the manifest into the initial stored canvas state.
func (m Manifest) ToMeta(now time.Time) storage.Meta {
	administrator, _ := participant.NormalizeIdentity(m.Administrator)
	return storage.Meta{
		LayoutVersion:     record.LayoutVersion,
		Width:             m.Width,
		Height:            m.Height,
		SeedPayload:       m.SeedPayload,
		IDCapacity:        m.IDCapacity,
		CreatedAt:         now.UTC(),
		Administrator:     administrator,
		Exclusive:         m.Exclusive,
		AdminFrozenExempt: m.Freeze.AdminExempt,
		AwardPolicy:       m.Award.Policy,
		BaseCred:          m.Award.BaseCred,
		DecayFactor:       m.Award.DecayFactor,
		TributeEnabled:    m.Tribute.Enabled,
		BaseTribute:       m.Tribute.Base,
		TributePerLayer:   m.Tribute.PerLayer,
		Overpayment:       m.Overpayment,
		MaxBatchCells:     m.Limits.MaxBatchCells,
		FreezeThreshold:   m.Freeze.Threshold,
		FreezeDeadline:    m.Freeze.Deadline,
	}
}

// VerifyImmutable checks a manifest against an existing canvas. Geometry,
// layout version, seed payload, and id capacity must match; everything else
// is owned by the stored canvas after creation.
func VerifyImmutable(m Manifest, meta storage.Meta) error {
	mismatch := func(field string, manifestValue, storedValue uint64) error {
		return apperrors.WithMetadata(apperrors.CodeIntegrityError,
			"genesis manifest contradicts stored canvas",
			map[string]string{
				"field":    field,
				"manifest": strconv.FormatUint(manifestValue, 10),
				"stored":   strconv.FormatUint(storedValue, 10),
			})
	}
	if meta.LayoutVersion != record.LayoutVersion {
		return mismatch("layout_version", record.LayoutVersion, uint64(meta.LayoutVersion))
	}
	if m.Width != meta.Width {
		return mismatch("width", uint64(m.Width), uint64(meta.Width))
	}
	if m.Height != meta.Height {
		return mismatch("height", uint64(m.Height), uint64(meta.Height))
	}
	if m.SeedPayload != meta.SeedPayload {
		return mismatch("seed_payload", uint64(m.SeedPayload), uint64(meta.SeedPayload))
	}
	if m.IDCapacity != meta.IDCapacity {
		return mismatch("id_capacity", uint64(m.IDCapacity), uint64(meta.IDCapacity))
	}
	return nil
}

// Ensure creates the canvas on first boot or verifies the manifest against
// the stored one. It returns the canvas meta in effect.
func Ensure(ctx context.Context, store storage.Store, m Manifest, now time.Time) (storage.Meta, error) {
	var existing storage.Meta
	err := store.View(ctx, func(tx storage.Tx) error {
		meta, err := tx.Meta(ctx)
		if err != nil {
			return err
		}
		existing = meta
		return nil
	})
	if err == nil {
		if err := VerifyImmutable(m, existing); err != nil {
			return storage.Meta{}, err
		}
		return existing, nil
	}
	if apperrors.CodeOf(err) != apperrors.CodeNotFound {
		return storage.Meta{}, err
	}

	meta := m.ToMeta(now)
	if err := store.Create(ctx, meta); err != nil {
		return storage.Meta{}, err
	}
	return meta, nil
}
