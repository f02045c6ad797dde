package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

const (
	maxBodyBytes  = 1 << 20
	maxQuantity   = 100
	maxPriceMinor = domain.MaxPriceMinor
)

type addToCartRequest struct {
	ProductID *string      `json:"productId"`
	Quantity  *json.Number `json:"quantity"`
	Price     *json.Number `json:"price"`
}

// addToCartInput: проверенный запрос на добавление в корзину.
type addToCartInput struct {
	ProductID  string
	Quantity   int32
	PriceMinor int64
}

type checkoutRequest struct {
	DiscountCode *string `json:"discountCode"`
}

func readBody(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxBodyBytes {
		return nil, newValidationError("body: request body is too large")
	}
	return body, nil
}

func decodeStrict(body []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(dst)
}

// parseAddToCart проверяет тело так же, как клиентская схема: все нарушения собираются в details.
func parseAddToCart(body []byte) (addToCartInput, error) {
	var req addToCartRequest
	if err := decodeStrict(body, &req); err != nil {
		return addToCartInput{}, newValidationError("body: " + describeDecodeError(err))
	}

	var (
		in      addToCartInput
		details []string
	)

	if req.ProductID == nil || strings.TrimSpace(*req.ProductID) == "" {
		details = append(details, "productId: Product ID is required")
	} else {
		in.ProductID = strings.TrimSpace(*req.ProductID)
	}

	switch qty, err := parseInt(req.Quantity); {
	case err != nil:
		details = append(details, "quantity: "+err.Error())
	case qty < 1:
		details = append(details, "quantity: Quantity must be at least 1")
	case qty > maxQuantity:
		details = append(details, fmt.Sprintf("quantity: Cannot add more than %d items at once", maxQuantity))
	default:
		in.Quantity = int32(qty)
	}

	switch price, err := parseInt(req.Price); {
	case err != nil:
		details = append(details, "price: "+err.Error())
	case price <= 0:
		details = append(details, "price: Price must be a positive number")
	case price > maxPriceMinor:
		details = append(details, fmt.Sprintf("price: Price cannot exceed %d", maxPriceMinor))
	default:
		in.PriceMinor = price
	}

	if len(details) > 0 {
		return addToCartInput{}, newValidationError(details...)
	}
	return in, nil
}

// parseCheckout допускает пустое и нечитаемое тело: checkout без кода: обычный случай.
func parseCheckout(body []byte) (string, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return "", nil
	}

	var req checkoutRequest
	if err := decodeStrict(body, &req); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) || errors.Is(err, io.ErrUnexpectedEOF) {
			return "", nil
		}
		return "", newValidationError("discountCode: " + describeDecodeError(err))
	}
	if req.DiscountCode == nil {
		return "", nil
	}
	return strings.TrimSpace(*req.DiscountCode), nil
}

func parseInt(n *json.Number) (int64, error) {
	if n == nil {
		return 0, errors.New("is required")
	}
	v, err := n.Int64()
	if err != nil {
		return 0, errors.New("must be an integer")
	}
	return v, nil
}

func describeDecodeError(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return fmt.Sprintf("field %q has invalid type", typeErr.Field)
	}
	return "invalid JSON"
}
