package icrc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPClient talks to a ledger bridge service over JSON. The bridge owns
// the actual chain interaction; this client only relays transfer and
// balance calls.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type transferRequest struct {
	FromSubaccount string `json:"from_subaccount,omitempty"`
	ToOwner        string `json:"to_owner"`
	ToSubaccount   string `json:"to_subaccount,omitempty"`
	Amount         uint64 `json:"amount"`
}

type transferResponse struct {
	BlockIndex uint64 `json:"block_index"`
	Error      *struct {
		Kind    string `json:"kind"`
		Code    int64  `json:"code"`
		Message string `json:"message"`
		Balance uint64 `json:"balance"`
	} `json:"error,omitempty"`
}

func (c *HTTPClient) Transfer(ctx context.Context, arg TransferArg) (uint64, error) {
	req := transferRequest{
		ToOwner: string(arg.To.Owner),
		Amount:  arg.Amount,
	}
	if arg.FromSubaccount != nil {
		req.FromSubaccount = hex.EncodeToString(arg.FromSubaccount[:])
	}
	if arg.To.Subaccount != nil {
		req.ToSubaccount = hex.EncodeToString(arg.To.Subaccount[:])
	}

	var resp transferResponse
	if err := c.post(ctx, "/transfer", req, &resp); err != nil {
		return 0, err
	}
	if resp.Error != nil {
		return 0, &TransferError{
			Kind:    parseErrorKind(resp.Error.Kind),
			Code:    resp.Error.Code,
			Message: resp.Error.Message,
			Balance: resp.Error.Balance,
		}
	}
	return resp.BlockIndex, nil
}

type balanceRequest struct {
	Owner      string `json:"owner"`
	Subaccount string `json:"subaccount,omitempty"`
}

type balanceResponse struct {
	Balance uint64 `json:"balance"`
}

func (c *HTTPClient) BalanceOf(ctx context.Context, account Account) (uint64, error) {
	req := balanceRequest{Owner: string(account.Owner)}
	if account.Subaccount != nil {
		req.Subaccount = hex.EncodeToString(account.Subaccount[:])
	}
	var resp balanceResponse
	if err := c.post(ctx, "/balance_of", req, &resp); err != nil {
		return 0, err
	}
	return resp.Balance, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ledger bridge: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ledger bridge: unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func parseErrorKind(s string) ErrorKind {
	switch s {
	case "insufficient_funds":
		return ErrInsufficientFunds
	case "bad_fee":
		return ErrBadFee
	case "duplicate":
		return ErrDuplicate
	default:
		return ErrGeneric
	}
}
