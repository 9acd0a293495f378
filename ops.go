package monarch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const (
	queryGetAccounts = `query GetAccounts {
  accounts {
    id
    displayName
    currentBalance
    includeInNetWorth
    isHidden
    isAsset
    updatedAt
    hasSyncInProgress
    type { name display __typename }
    institution { id name __typename }
    __typename
  }
}`

	querySubscriptionDetails = `query Common_GetSubscriptionDetails {
  subscription {
    id
    paymentSource
    referralCode
    isOnFreeTrial
    hasPremiumEntitlement
    __typename
  }
}`

	mutationForceRefresh = `mutation ForceRefreshAccountsMutation($input: ForceRefreshAccountsInput!) {
  forceRefreshAccounts(input: $input) {
    success
    errors {
      message
      __typename
    }
    __typename
  }
}`

	queryRefreshStatus = `query ForceRefreshAccountsQuery {
  accounts {
    id
    hasSyncInProgress
    __typename
  }
}`
)

// Account is one linked financial account as returned by the service.
type Account struct {
	ID                string  `json:"id"`
	DisplayName       string  `json:"displayName"`
	CurrentBalance    float64 `json:"currentBalance"`
	IncludeInNetWorth bool    `json:"includeInNetWorth"`
	IsHidden          bool    `json:"isHidden"`
	IsAsset           bool    `json:"isAsset"`
	UpdatedAt         string  `json:"updatedAt"`
	HasSyncInProgress bool    `json:"hasSyncInProgress"`
	Type              struct {
		Name    string `json:"name"`
		Display string `json:"display"`
	} `json:"type"`
	Institution struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"institution"`
}

// Subscription describes the account's plan standing.
type Subscription struct {
	ID                    string `json:"id"`
	PaymentSource         string `json:"paymentSource"`
	ReferralCode          string `json:"referralCode"`
	IsOnFreeTrial         bool   `json:"isOnFreeTrial"`
	HasPremiumEntitlement bool   `json:"hasPremiumEntitlement"`
}

func opSubscriptionDetails() Operation {
	return Operation{
		Name:       "Common_GetSubscriptionDetails",
		Query:      querySubscriptionDetails,
		Idempotent: true,
	}
}

// GetAccounts returns all linked accounts.
func (c *Client) GetAccounts(ctx context.Context) ([]Account, error) {
	data, err := c.Execute(ctx, Operation{
		Name:       "GetAccounts",
		Query:      queryGetAccounts,
		Idempotent: true,
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		Accounts []Account `json:"accounts"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &Error{Class: ClassUnknown, Operation: "GetAccounts", Attempts: 1,
			Err: fmt.Errorf("decoding accounts payload: %w", err)}
	}
	return out.Accounts, nil
}

// GetSubscriptionDetails returns the plan standing. It doubles as the
// cheapest authenticated call the service offers, which is why session
// validation probes with it.
func (c *Client) GetSubscriptionDetails(ctx context.Context) (*Subscription, error) {
	data, err := c.Execute(ctx, opSubscriptionDetails())
	if err != nil {
		return nil, err
	}

	var out struct {
		Subscription *Subscription `json:"subscription"`
	}
	if err := json.Unmarshal(data, &out); err != nil || out.Subscription == nil {
		return nil, &Error{Class: ClassUnknown, Operation: "Common_GetSubscriptionDetails", Attempts: 1,
			Err: fmt.Errorf("decoding subscription payload")}
	}
	return out.Subscription, nil
}

// RequestAccountsRefresh asks the service to start pulling fresh data for
// the given accounts; empty accountIDs means every linked account. The
// mutation is not idempotent: a network failure after the first send leaves
// the job state ambiguous, so it is never re-sent.
func (c *Client) RequestAccountsRefresh(ctx context.Context, accountIDs []string) error {
	if len(accountIDs) == 0 {
		accounts, err := c.GetAccounts(ctx)
		if err != nil {
			return err
		}
		for _, a := range accounts {
			accountIDs = append(accountIDs, a.ID)
		}
	}

	data, err := c.Execute(ctx, Operation{
		Name:  "ForceRefreshAccountsMutation",
		Query: mutationForceRefresh,
		Variables: map[string]any{
			"input": map[string]any{"accountIds": accountIDs},
		},
	})
	if err != nil {
		return err
	}

	var out struct {
		ForceRefreshAccounts struct {
			Success bool `json:"success"`
			Errors  []struct {
				Message string `json:"message"`
			} `json:"errors"`
		} `json:"forceRefreshAccounts"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return &Error{Class: ClassUnknown, Operation: "ForceRefreshAccountsMutation", Attempts: 1,
			Err: fmt.Errorf("decoding refresh payload: %w", err)}
	}
	if !out.ForceRefreshAccounts.Success {
		msg := "refresh request was not accepted"
		if len(out.ForceRefreshAccounts.Errors) > 0 {
			msg = out.ForceRefreshAccounts.Errors[0].Message
		}
		return &Error{Class: ClassUnknown, Operation: "ForceRefreshAccountsMutation", Attempts: 1,
			Err: fmt.Errorf("%s: %w", msg, ErrRefreshFailed)}
	}
	return nil
}

// IsAccountsRefreshComplete reports whether no tracked account still has a
// sync in progress. With accountIDs the check is scoped to those accounts;
// empty means all.
func (c *Client) IsAccountsRefreshComplete(ctx context.Context, accountIDs []string) (bool, error) {
	data, err := c.Execute(ctx, Operation{
		Name:       "ForceRefreshAccountsQuery",
		Query:      queryRefreshStatus,
		Idempotent: true,
	})
	if err != nil {
		return false, err
	}

	var out struct {
		Accounts []struct {
			ID                string `json:"id"`
			HasSyncInProgress bool   `json:"hasSyncInProgress"`
		} `json:"accounts"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return false, &Error{Class: ClassUnknown, Operation: "ForceRefreshAccountsQuery", Attempts: 1,
			Err: fmt.Errorf("decoding refresh status payload: %w", err)}
	}

	scope := map[string]bool{}
	for _, id := range accountIDs {
		scope[id] = true
	}
	for _, a := range out.Accounts {
		if len(scope) > 0 && !scope[a.ID] {
			continue
		}
		if a.HasSyncInProgress {
			return false, nil
		}
	}
	return true, nil
}

// RefreshAccountsAndWait starts an account refresh and blocks until every
// targeted account finishes syncing or the wait budget runs out.
func (c *Client) RefreshAccountsAndWait(ctx context.Context, accountIDs []string, timeout, pollInterval time.Duration) error {
	if err := c.RequestAccountsRefresh(ctx, accountIDs); err != nil {
		return err
	}
	return c.waitFor(ctx, "AccountsRefresh", timeout, pollInterval, func(pctx context.Context) (bool, error) {
		return c.IsAccountsRefreshComplete(pctx, accountIDs)
	})
}
