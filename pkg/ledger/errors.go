package ledger

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcclellann/sharkpro/pkg/store"
)

var (
	// ErrOrphanSchedule matches any OrphanScheduleError.
	ErrOrphanSchedule  = errors.New("loan schedule could not be saved")
	ErrInvalidClient   = errors.New("invalid client")
	ErrInvalidUpdate   = errors.New("invalid loan update")
	ErrStaleAccrual    = store.ErrStaleAccrual
	ErrInstallmentPaid = store.ErrAlreadyPaid
)

// OrphanScheduleError reports a loan whose installments failed to persist.
// The loan row has been deleted again unless RollbackErr is set.
type OrphanScheduleError struct {
	LoanID      uuid.UUID
	Cause       error
	RollbackErr error
}

func (e *OrphanScheduleError) Error() string {
	if e.RollbackErr != nil {
		return fmt.Sprintf("loan %s: schedule insert failed: %v; compensating delete failed: %v", e.LoanID, e.Cause, e.RollbackErr)
	}
	return fmt.Sprintf("loan %s: schedule insert failed, loan removed: %v", e.LoanID, e.Cause)
}

func (e *OrphanScheduleError) Unwrap() []error {
	errs := []error{ErrOrphanSchedule, e.Cause}
	if e.RollbackErr != nil {
		errs = append(errs, e.RollbackErr)
	}
	return errs
}
