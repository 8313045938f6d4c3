package projects

import "errors"

// Engine failures are sentinel errors so callers can branch with errors.Is.
// Every sentinel belongs to exactly one of the taxonomy groups below; the RPC
// layer maps groups onto status codes.
var (
	ErrNotAuthorized    = errors.New("projects engine: caller is not owner or admin")
	ErrOnlyOwner        = errors.New("projects engine: only the contract owner may do this")
	ErrOnlyProjectOwner = errors.New("projects engine: only project owner can do this")

	ErrZeroTargetAmount   = errors.New("projects engine: target amount must be greater than 0")
	ErrZeroDuration       = errors.New("projects engine: funding duration must be greater than 0")
	ErrExcessiveDuration  = errors.New("projects engine: funding duration cannot exceed 1 year")
	ErrZeroAmount         = errors.New("projects engine: amount must be greater than 0")
	ErrInvalidProjectType = errors.New("projects engine: invalid project type")
	ErrZeroAddress        = errors.New("projects engine: zero address")
	ErrAdminExists        = errors.New("projects engine: admin already registered")
	ErrAdminUnknown       = errors.New("projects engine: admin not registered")

	ErrProjectNotFound     = errors.New("projects engine: project not found")
	ErrProjectNotActive    = errors.New("projects engine: project is not active")
	ErrDeadlinePassed      = errors.New("projects engine: funding deadline has passed")
	ErrDeadlineNotReached  = errors.New("projects engine: funding deadline not reached yet")
	ErrFundingSucceeded    = errors.New("projects engine: project funding was successful")
	ErrAlreadyFailed       = errors.New("projects engine: project already marked as failed")
	ErrFundingNotCompleted = errors.New("projects engine: funding not completed yet")
	ErrAlreadyCompleted    = errors.New("projects engine: project already completed")
	ErrProjectNotCompleted = errors.New("projects engine: project must be completed first")
	ErrProjectNotFailed    = errors.New("projects engine: project has not failed")

	ErrExceedsTarget = errors.New("projects engine: investment exceeds target amount")

	ErrInsufficientAsset = errors.New("projects engine: insufficient settlement asset balance")

	ErrNoInterestAvailable  = errors.New("projects engine: no interest available to claim")
	ErrNoPrincipalAvailable = errors.New("projects engine: no principal available to claim")
	ErrRefundAlreadyClaimed = errors.New("projects engine: refund already claimed")
	ErrNoInvestment         = errors.New("projects engine: no investment to refund")

	errNilState = errors.New("projects engine: state not configured")
	errNilToken = errors.New("projects engine: token adapter not configured")
)

var (
	authorizationErrors = []error{ErrNotAuthorized, ErrOnlyOwner, ErrOnlyProjectOwner}
	validationErrors    = []error{
		ErrZeroTargetAmount, ErrZeroDuration, ErrExcessiveDuration, ErrZeroAmount,
		ErrInvalidProjectType, ErrZeroAddress, ErrAdminExists, ErrAdminUnknown,
	}
	stateErrors = []error{
		ErrProjectNotFound, ErrProjectNotActive, ErrDeadlinePassed, ErrDeadlineNotReached,
		ErrFundingSucceeded, ErrAlreadyFailed, ErrFundingNotCompleted, ErrAlreadyCompleted,
		ErrProjectNotCompleted, ErrProjectNotFailed,
	}
	claimErrors = []error{
		ErrNoInterestAvailable, ErrNoPrincipalAvailable, ErrRefundAlreadyClaimed, ErrNoInvestment,
	}
)

func isAny(err error, group []error) bool {
	for _, sentinel := range group {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// IsAuthorizationError reports whether err denotes a caller lacking the
// required role.
func IsAuthorizationError(err error) bool { return isAny(err, authorizationErrors) }

// IsValidationError reports whether err denotes malformed input.
func IsValidationError(err error) bool { return isAny(err, validationErrors) }

// IsStateError reports whether err denotes an operation attempted in the wrong
// lifecycle state.
func IsStateError(err error) bool { return isAny(err, stateErrors) }

// IsCapacityError reports whether err denotes a deposit exceeding the funding
// gap.
func IsCapacityError(err error) bool { return errors.Is(err, ErrExceedsTarget) }

// IsInsufficientAssetError reports whether err denotes an inadequate balance
// in the external settlement asset.
func IsInsufficientAssetError(err error) bool { return errors.Is(err, ErrInsufficientAsset) }

// IsClaimError reports whether err denotes a claim with nothing available or
// already settled.
func IsClaimError(err error) bool { return isAny(err, claimErrors) }
