package services

import (
	"strings"
	"testing"

	"github.com/moov-io/iso20022/pkg/common"
	"github.com/stretchr/testify/assert"
)

func TestSettlementService_CreatePacs008(t *testing.T) {
	service := NewSettlementService("TESTBIC1")

	t.Run("builds a credit transfer carrying the ledger reference", func(t *testing.T) {
		doc, err := service.CreatePacs008("TX-00000042", "1234567890", "SN-EXT-001", 150000)
		assert.NoError(t, err)

		assert.Equal(t, "1", string(doc.GrpHdr.NbOfTxs))
		assert.Equal(t, common.ActiveCurrencyCode("XOF"), doc.GrpHdr.TtlIntrBkSttlmAmt.Ccy)
		assert.Equal(t, 1500.0, doc.GrpHdr.TtlIntrBkSttlmAmt.Value)

		assert.Len(t, doc.CdtTrfTxInf, 1)
		tx := doc.CdtTrfTxInf[0]
		assert.Equal(t, common.Max35Text("TX-00000042"), tx.PmtId.EndToEndId)
		assert.Equal(t, 1500.0, tx.IntrBkSttlmAmt.Value)
		assert.Equal(t, "TESTBIC1", string(*tx.DbtrAgt.FinInstnId.BICFI))
		assert.Equal(t, "1234567890", string(*tx.Dbtr.Nm))
		assert.Equal(t, "SN-EXT-001", string(*tx.Cdtr.Nm))
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		_, err := service.CreatePacs008("TX-00000042", "1234567890", "SN-EXT-001", 0)
		assert.ErrorIs(t, err, ErrInvalidAmount)

		_, err = service.CreatePacs008("TX-00000042", "1234567890", "SN-EXT-001", -100)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("defaults the BIC when none is configured", func(t *testing.T) {
		fallback := NewSettlementService("")
		doc, err := fallback.CreatePacs008("TX-00000001", "1234567890", "SN-EXT-001", 100)
		assert.NoError(t, err)
		assert.Equal(t, "KIVAPAY1", string(*doc.CdtTrfTxInf[0].DbtrAgt.FinInstnId.BICFI))
	})
}

func TestSettlementService_ConvertToXML(t *testing.T) {
	service := NewSettlementService("TESTBIC1")

	doc, err := service.CreatePacs008("TX-00000042", "1234567890", "SN-EXT-001", 150000)
	assert.NoError(t, err)

	xmlData, err := service.ConvertToXML(doc)
	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(xmlData, "<?xml"))
	assert.Contains(t, xmlData, "TX-00000042")
}
