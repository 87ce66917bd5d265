package services

import (
	"encoding/xml"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
)

const settlementCurrency = "XOF"

// SettlementService emits ISO 20022 messages for transfers that leave the
// platform. External payouts are forwarded to the clearing partner as
// pacs.008 credit transfers; internal movements never reach this service.
type SettlementService struct {
	bic string
}

func NewSettlementService(bic string) *SettlementService {
	if bic == "" {
		bic = "KIVAPAY1"
	}
	return &SettlementService{bic: bic}
}

// EmitCreditTransfer builds and dispatches a pacs.008 for an external payout.
// It runs off the money path: failures are logged, never surfaced to the
// sender, and the payout record already exists in the ledger.
func (ss *SettlementService) EmitCreditTransfer(reference, debtorAccount, creditorAccount string, amount int64) {
	doc, err := ss.CreatePacs008(reference, debtorAccount, creditorAccount, amount)
	if err != nil {
		log.Printf("[SETTLEMENT] Failed to build pacs.008 for %s: %v", reference, err)
		return
	}
	if err := ss.SendToSettlement(doc); err != nil {
		log.Printf("[SETTLEMENT] Failed to dispatch %s: %v", reference, err)
	}
}

// CreatePacs008 creates a pacs.008 FIToFICustomerCreditTransfer message.
// Amounts are stored in minor units; the wire format carries major units.
func (ss *SettlementService) CreatePacs008(reference, debtorAccount, creditorAccount string, amount int64) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	msgId := uuid.New().String()
	creDtTm := time.Now()
	settlementDate := time.Now()
	majorAmount := float64(amount) / 100

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(settlementCurrency),
				Value: majorAmount,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG", // Clearing
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(msgId)}[0],
					EndToEndId: common.Max35Text(reference),
					TxId:       &[]common.Max35Text{common.Max35Text(reference)}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode(settlementCurrency),
					Value: majorAmount,
				},
				IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(ss.bic)}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(debtorAccount)}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						ClrSysMmbId: &pacs_v08.ClearingSystemMemberIdentification2{
							MmbId: common.Max35Text(creditorAccount),
						},
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(creditorAccount)}[0],
				},
			},
		},
	}

	return doc, nil
}

func (ss *SettlementService) SendToSettlement(doc interface{}) error {
	xmlData, err := ss.ConvertToXML(doc)
	if err != nil {
		return err
	}

	// TODO: replace log dispatch with the clearing partner's API once
	// onboarding completes.
	log.Printf("[SETTLEMENT] Dispatching message:\n%s", xmlData)
	return nil
}

// ConvertToXML converts an ISO 20022 document to an XML string.
func (ss *SettlementService) ConvertToXML(doc interface{}) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}
