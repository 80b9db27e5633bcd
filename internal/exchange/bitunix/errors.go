package bitunix

import (
	"errors"
	"strings"

	"github.com/Tidy1/TidyTapBit/internal/core"
)

const apiCodeInsufficientBalance = 20003

var apiErrorMessageKinds = map[string]error{
	"insufficient balance":    core.ErrInsufficientBalance,
	"duplicate clientid":      core.ErrDuplicateOrder,
	"order not exist":         core.ErrOrderNotFound,
	"order has been finished": core.ErrOrderNotFound,
}

func classifyAPIError(apiErr APIError) error {
	kinds := make([]error, 0, 2)
	if apiErr.Code == apiCodeInsufficientBalance {
		kinds = append(kinds, core.ErrInsufficientBalance)
	}
	normalized := strings.ToLower(strings.TrimSpace(apiErr.Msg))
	if kind, ok := apiErrorMessageKinds[normalized]; ok {
		duplicate := false
		for _, existing := range kinds {
			if existing == kind {
				duplicate = true
			}
		}
		if !duplicate {
			kinds = append(kinds, kind)
		}
	}
	if len(kinds) == 0 {
		return apiErr
	}
	chain := make([]error, 0, 1+len(kinds))
	chain = append(chain, apiErr)
	chain = append(chain, kinds...)
	return errors.Join(chain...)
}

func AsAPIError(err error) (APIError, bool) {
	if err == nil {
		return APIError{}, false
	}
	var apiErr APIError
	if !errors.As(err, &apiErr) {
		return APIError{}, false
	}
	return apiErr, true
}

func IsAPIErrorCode(err error, codes ...int) bool {
	apiErr, ok := AsAPIError(err)
	if !ok {
		return false
	}
	for _, code := range codes {
		if apiErr.Code == code {
			return true
		}
	}
	return false
}
