package theta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaxTradePriceArrayOfObjects(t *testing.T) {
	body := []byte(`[{"price": 1.25, "size": 100}, {"price": 2.50}, {"price": 1.80}]`)
	v := maxTradePrice(body)
	require.NotNil(t, v)
	assert.Equal(t, 2.50, *v)
}

func TestMaxTradePriceParallelArrays(t *testing.T) {
	body := []byte(`{"price": [230.96, 229.50, 231.10], "timestamp": [1, 2, 3]}`)
	v := maxTradePrice(body)
	require.NotNil(t, v)
	assert.Equal(t, 231.10, *v)
}

func TestMaxTradePriceResponseObjects(t *testing.T) {
	body := []byte(`{"response": [{"price": 4.20}, {"price": 4.80}, {"price": 3.90}]}`)
	v := maxTradePrice(body)
	require.NotNil(t, v)
	assert.Equal(t, 4.80, *v)
}

func TestMaxTradePriceV1NumericRows(t *testing.T) {
	// price lives at index 9 of each row
	body := []byte(`{
		"header": {"format": ["ms_of_day","sequence","ext_condition1","ext_condition2","ext_condition3","ext_condition4","condition","size","exchange","price","condition_flags","price_flags","volume_type","records_back","date"]},
		"response": [
			[14400000, 1, 0, 0, 0, 0, 0, 100, 1, 3.25, 0, 0, 0, 0, 20250102],
			[14460000, 2, 0, 0, 0, 0, 0, 200, 1, 3.75, 0, 0, 0, 0, 20250102],
			[14520000, 3, 0, 0, 0, 0, 0, 150, 1, 3.10, 0, 0, 0, 0, 20250102]
		]
	}`)
	v := maxTradePrice(body)
	require.NotNil(t, v)
	assert.Equal(t, 3.75, *v)
}

func TestMaxTradePriceV1NullPrices(t *testing.T) {
	body := []byte(`{
		"header": {},
		"response": [
			[14400000, 1, 0, 0, 0, 0, 0, 100, 1, null, 0, 0, 0, 0, 20250102]
		]
	}`)
	assert.Nil(t, maxTradePrice(body))
}

func TestMaxTradePriceNDJSON(t *testing.T) {
	body := []byte("{\"price\": 1.10}\n\n{\"price\": 1.95}\nnot-json\n{\"price\": 1.50}\n")
	v := maxTradePrice(body)
	require.NotNil(t, v)
	assert.Equal(t, 1.95, *v)
}

func TestMaxTradePriceEmptyAndNoise(t *testing.T) {
	assert.Nil(t, maxTradePrice(nil))
	assert.Nil(t, maxTradePrice([]byte("")))
	assert.Nil(t, maxTradePrice([]byte("[]")))
	assert.Nil(t, maxTradePrice([]byte(`{"status": "warming up"}`)))
}

func TestPremarketHighFromMinuteBars(t *testing.T) {
	// rows: [ms, open, high, low, close, volume, count, date]
	// 03:59 is before the window, 09:31 after; only 04:00 and 09:30 count.
	body := []byte(`{"response": [
		[14340000, 1.0, 9.99, 0.9, 1.0, 500, 5, 20250102],
		[14400000, 1.0, 1.60, 0.9, 1.1, 500, 5, 20250102],
		[34200000, 1.1, 1.85, 1.0, 1.2, 700, 7, 20250102],
		[34260000, 1.2, 9.99, 1.1, 1.3, 900, 9, 20250102]
	]}`)
	v := premarketHighFromMinuteBars(body)
	require.NotNil(t, v)
	assert.Equal(t, 1.85, *v)
}

func TestPremarketHighFromMinuteBarsNoData(t *testing.T) {
	assert.Nil(t, premarketHighFromMinuteBars([]byte(`{"response": []}`)))
	assert.Nil(t, premarketHighFromMinuteBars([]byte(`garbage`)))
}

func TestAggregateMinuteBars(t *testing.T) {
	body := []byte(`{"response": [
		[34200000, 2.00, 2.10, 1.95, 2.05, 1000, 10, 20250102],
		[34260000, 2.05, 2.50, 2.00, 2.45, 2000, 20, 20250102],
		[34320000, 2.45, 2.48, 2.30, 2.35, 1500, 15, 20250102]
	]}`)
	bar, ok := aggregateMinuteBars(body)
	require.True(t, ok)
	assert.Equal(t, 2.00, bar.Open)
	assert.Equal(t, 2.50, bar.High)
	assert.Equal(t, 1.95, bar.Low)
	assert.Equal(t, 2.35, bar.Close)
	assert.Equal(t, int64(4500), bar.Volume)
}

func TestAggregateMinuteBarsIncomplete(t *testing.T) {
	// a day with only null opens cannot form a bar
	body := []byte(`{"response": [[34200000, null, 2.10, 1.95, 2.05, 1000, 10, 20250102]]}`)
	_, ok := aggregateMinuteBars(body)
	assert.False(t, ok)
}

func TestHmsToMs(t *testing.T) {
	assert.Equal(t, "14400000", hmsToMs("04:00:00"))
	assert.Equal(t, "34199000", hmsToMs("09:29:59"))
	assert.Equal(t, "0", hmsToMs("bad"))
}

func TestYmdNoDash(t *testing.T) {
	assert.Equal(t, "20250102", ymdNoDash("2025-01-02"))
}

func TestVenuesToTry(t *testing.T) {
	assert.Equal(t, []string{"utp_cta", "nqb"}, venuesToTry(""))
	assert.Equal(t, []string{"utp_cta", "nqb"}, venuesToTry("utp_cta"))
	assert.Equal(t, []string{"nqb", "utp_cta"}, venuesToTry("NQB"))
	assert.Equal(t, []string{"utp_cta", "nqb"}, venuesToTry("bogus"))
}
