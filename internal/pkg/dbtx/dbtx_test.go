package dbtx

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQuoteIdent(t *testing.T) {
	t.Parallel()

	got, err := QuoteIdent("product_product")
	require.NoError(t, err)
	require.Equal(t, `"product_product"`, got)

	for _, bad := range []string{"", "Product", "a;drop table x", "1abc", `x"y`} {
		_, err := QuoteIdent(bad)
		require.Error(t, err, bad)
	}
}
