package shared

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type amountForm struct {
	Amount decimal.Decimal     `json:"amount" validate:"gt=0"`
	Limit  decimal.NullDecimal `json:"limit" validate:"omitempty,gte=0"`
}

func TestValidatorUnderstandsDecimals(t *testing.T) {
	v := NewValidator()

	require.NoError(t, v.Struct(amountForm{Amount: decimal.RequireFromString("0.01")}))
	require.NoError(t, v.Struct(amountForm{
		Amount: decimal.NewFromInt(5),
		Limit:  decimal.NewNullDecimal(decimal.Zero),
	}))

	err := ValidationError(v.Struct(amountForm{Amount: decimal.Zero}))
	require.ErrorIs(t, err, ErrValidation)
	require.Contains(t, err.Error(), "amountForm.amount failed gt")

	err = ValidationError(v.Struct(amountForm{
		Amount: decimal.NewFromInt(1),
		Limit:  decimal.NewNullDecimal(decimal.NewFromInt(-1)),
	}))
	require.ErrorIs(t, err, ErrValidation)
}

func TestValidationErrorNil(t *testing.T) {
	require.NoError(t, ValidationError(nil))
}

func TestFitsScale(t *testing.T) {
	cases := []struct {
		value  string
		places int32
		want   bool
	}{
		{"1", MoneyPlaces, true},
		{"1.25", MoneyPlaces, true},
		{"1.500", MoneyPlaces, true},
		{"0.005", MoneyPlaces, false},
		{"-10.001", MoneyPlaces, false},
		{"1.0005", QuantityPlaces, false},
		{"0.0004", QuantityPlaces, false},
		{"2.125", QuantityPlaces, true},
	}
	for _, tc := range cases {
		t.Run(tc.value, func(t *testing.T) {
			require.Equal(t, tc.want, FitsScale(decimal.RequireFromString(tc.value), tc.places))
		})
	}
}
