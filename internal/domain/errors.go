package domain

import "errors"

var (
	// ErrUnauthenticated: не удалось определить пользователя (нет x-user-id).
	ErrUnauthenticated = errors.New("unauthenticated: missing user id")
	// ErrValidation: некорректные входные данные; оборачивается с деталями через fmt.Errorf.
	ErrValidation = errors.New("validation failed")
	// ErrEmptyCart: checkout без корзины или с пустой корзиной.
	ErrEmptyCart = errors.New("cart not found or empty")
	// ErrInvalidDiscountCode: код скидки не найден в хранилище.
	ErrInvalidDiscountCode = errors.New("invalid discount code")
	// ErrDiscountCodeAlreadyUsed: код найден, но уже был погашен.
	ErrDiscountCodeAlreadyUsed = errors.New("discount code has already been used")
	// ErrDiscountCodeRequired: пустая строка вместо кода при сидировании.
	ErrDiscountCodeRequired = errors.New("discount code is required")
	// ErrDiscountCodeExists: попытка повторно создать существующий код.
	ErrDiscountCodeExists = errors.New("discount code already exists")
	// ErrDiscountPercentageInvalid: процент скидки вне диапазона 0..100.
	ErrDiscountPercentageInvalid = errors.New("discount percentage must be within 0..100")
	// ErrUserIDRequired: пустой идентификатор владельца корзины или заказа.
	ErrUserIDRequired = errors.New("user_id is required")
	// ErrItemQtyInvalid: количество товара <= 0.
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// ErrItemPriceInvalid: отрицательная цена позиции.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// ErrProductIDRequired: позиция без идентификатора товара.
	ErrProductIDRequired = errors.New("product_id is required")
	// ErrOrderExists: заказ с таким ID уже записан в журнал.
	ErrOrderExists = errors.New("order already exists")
	// ErrDiscountCodeGeneration: не удалось подобрать уникальный код купона.
	ErrDiscountCodeGeneration = errors.New("failed to generate unique discount code")
	// ErrAmountMismatch: итоговые суммы заказа не сходятся с позициями.
	ErrAmountMismatch = errors.New("order amounts do not match items")
	// ErrAmountOverflow: сумма позиций не помещается в int64.
	ErrAmountOverflow = errors.New("order amount overflows")
	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrIdempotencyKeyRequired: пустой idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired: не передан хеш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists: ключ уже зарегистрирован с тем же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch: ключ уже использован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different payload")
	// ErrIdempotencyInProgress: первый запрос с этим ключом ещё обрабатывается.
	ErrIdempotencyInProgress = errors.New("request with the same idempotency key is already processing")
	// ErrIdempotencyKeyNotFound: запись по ключу отсутствует.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
)

// ErrorKind: машинно-проверяемая категория ошибки для внешней границы.
type ErrorKind string

const (
	KindUnauthenticated         ErrorKind = "unauthenticated"
	KindValidationFailed        ErrorKind = "validation_failed"
	KindEmptyCart               ErrorKind = "empty_cart"
	KindInvalidDiscountCode     ErrorKind = "invalid_discount_code"
	KindDiscountCodeAlreadyUsed ErrorKind = "discount_code_already_used"
	KindInternal                ErrorKind = "internal"
)

// KindOf классифицирует ошибку. Всё, что не является бизнес-ошибкой, считается internal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthenticated):
		return KindUnauthenticated
	case errors.Is(err, ErrValidation):
		return KindValidationFailed
	case errors.Is(err, ErrEmptyCart):
		return KindEmptyCart
	case errors.Is(err, ErrInvalidDiscountCode):
		return KindInvalidDiscountCode
	case errors.Is(err, ErrDiscountCodeAlreadyUsed):
		return KindDiscountCodeAlreadyUsed
	default:
		return KindInternal
	}
}

// IsBusinessError сообщает, относится ли ошибка к бизнес-правилам checkout.
func IsBusinessError(err error) bool {
	switch KindOf(err) {
	case KindEmptyCart, KindInvalidDiscountCode, KindDiscountCodeAlreadyUsed:
		return true
	default:
		return false
	}
}

// IsIdempotencyConflict проверяет, что ключ уже занят (тем же или другим запросом).
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
