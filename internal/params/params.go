// Package params reads the admin/partner trading parameters and the
// per-mint curve account configuration from Postgres. Rows are read
// fresh at the top of every trade and are never cached across trades:
// the trade engine treats them as opaque configuration, not state it
// owns.
package params

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	apperrors "github.com/curvemargin/marginbook/pkg/errors"
)

// AdminParams is the global, admin-controlled trading policy row.
type AdminParams struct {
	ID                 uint   `gorm:"primaryKey"`
	SchemaVersion       string `gorm:"column:schema_version"`
	DefaultFeeBps        uint16 `gorm:"column:default_fee_bps"`
	MinStopLossPercent   uint8  `gorm:"column:min_stop_loss_percent"`
	TradeCooldownSeconds uint32 `gorm:"column:trade_cooldown_seconds"`
	MaxCloseInsertIndices int   `gorm:"column:max_close_insert_indices"`
}

// TableName pins the admin_params row to a stable table name.
func (AdminParams) TableName() string { return "admin_params" }

// PartnerParams is a per-partner fee-sharing override row.
type PartnerParams struct {
	ID              uint   `gorm:"primaryKey"`
	PartnerID       string `gorm:"column:partner_id"`
	FeeShareBps     uint16 `gorm:"column:fee_share_bps"`
}

// TableName pins the partner_params row to a stable table name.
func (PartnerParams) TableName() string { return "partner_params" }

// CurveAccountParams is the per-mint curve configuration row: virtual
// reserve seeds and borrow-fee schedule for that mint's market.
type CurveAccountParams struct {
	ID                uint   `gorm:"primaryKey"`
	Mint              string `gorm:"column:mint"`
	VirtualSolReserve uint64 `gorm:"column:virtual_sol_reserve"`
	VirtualTokenReserve uint64 `gorm:"column:virtual_token_reserve"`
	BorrowFeeBps      uint16 `gorm:"column:borrow_fee_bps"`
}

// TableName pins the curve_account_params row to a stable table name.
func (CurveAccountParams) TableName() string { return "curve_account_params" }

// Store is the read-only Postgres accessor for trading parameters.
type Store struct {
	db             *gorm.DB
	minSchema      *semver.Version
}

// Open connects to Postgres at dsn and establishes the minimum schema
// version this build of the engine requires.
func Open(dsn, minSchemaVersion string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrIoError, "open params database")
	}
	min, err := semver.NewVersion(minSchemaVersion)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrIoError, "parse minimum schema version")
	}
	return &Store{db: db, minSchema: min}, nil
}

// LoadAdmin reads the single current admin_params row, rejecting it if
// its declared schema_version predates the engine's minimum.
func (s *Store) LoadAdmin() (AdminParams, error) {
	var p AdminParams
	if err := s.db.Order("id desc").First(&p).Error; err != nil {
		return AdminParams{}, apperrors.Wrap(err, apperrors.ErrIoError, "load admin params")
	}
	rowVersion, err := semver.NewVersion(p.SchemaVersion)
	if err != nil {
		return AdminParams{}, apperrors.Wrapf(err, apperrors.ErrIoError, "parse admin params schema_version %q", p.SchemaVersion)
	}
	if rowVersion.LessThan(s.minSchema) {
		return AdminParams{}, apperrors.Newf(apperrors.ErrIoError, "admin params schema %s older than required %s", rowVersion, s.minSchema)
	}
	return p, nil
}

// LoadPartner reads a partner's fee-sharing override, if one exists.
func (s *Store) LoadPartner(partnerID string) (PartnerParams, bool, error) {
	var p PartnerParams
	err := s.db.Where("partner_id = ?", partnerID).First(&p).Error
	if err == gorm.ErrRecordNotFound {
		return PartnerParams{}, false, nil
	}
	if err != nil {
		return PartnerParams{}, false, apperrors.Wrap(err, apperrors.ErrIoError, "load partner params")
	}
	return p, true, nil
}

// LoadCurveAccount reads the curve configuration row for mint.
func (s *Store) LoadCurveAccount(mint string) (CurveAccountParams, error) {
	var p CurveAccountParams
	if err := s.db.Where("mint = ?", mint).First(&p).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return CurveAccountParams{}, apperrors.Newf(apperrors.ErrNotFound, "no curve account params for mint %s", mint)
		}
		return CurveAccountParams{}, apperrors.Wrap(err, apperrors.ErrIoError, fmt.Sprintf("load curve account params for mint %s", mint))
	}
	return p, nil
}
