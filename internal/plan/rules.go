package plan

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/mlindqvist/cryovault/internal/validate"
)

// DateRule accepts YYYY-MM-DD strings. Empty values pass; combine with
// validation.Required where the date is mandatory.
var DateRule = validation.By(func(v any) error {
	s, _ := v.(string)
	if s == "" {
		return nil
	}
	if !validate.ValidDate(s) {
		return errors.New("must be a YYYY-MM-DD date")
	}
	return nil
})

var positiveInts = validation.Each(validation.Min(1))

// Validate checks the request shape of an add payload.
func (p AddPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.FrozenAt, validation.Required.Error("frozen_at is required"), DateRule),
		validation.Field(&p.Positions, validation.Required.Error("at least one position is required"), positiveInts),
	)
}

// Validate checks the request shape of an edit payload.
func (p EditPayload) Validate() error {
	if err := validation.ValidateStruct(&p,
		validation.Field(&p.RecordID, validation.Min(1)),
		validation.Field(&p.Fields, validation.Required.Error("at least one field must be provided")),
	); err != nil {
		return err
	}
	if raw, ok := p.Fields["frozen_at"]; ok {
		s, _ := raw.(string)
		if !validate.ValidDate(s) {
			return errors.New("frozen_at: must be a YYYY-MM-DD date")
		}
	}
	return nil
}

// Validate checks the request shape of a move payload.
func (p MovePayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.RecordID, validation.Min(1)),
		validation.Field(&p.ToPosition, validation.Required.Error("to_position is required for move"), validation.Min(1)),
		validation.Field(&p.Date, DateRule),
	)
}

// Validate checks the request shape of a takeout payload.
func (p TakeoutPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.RecordID, validation.Min(1)),
		validation.Field(&p.Date, DateRule),
	)
}

// Validate checks the request shape of a rollback payload.
func (p RollbackPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.BackupPath, validation.Required.Error("backup_path is required for rollback")),
	)
}
