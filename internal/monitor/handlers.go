package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/ccolleatte/dao-services/internal/chain"
	"github.com/ccolleatte/dao-services/internal/errs"
	"github.com/ccolleatte/dao-services/internal/logger"
	"github.com/ccolleatte/dao-services/internal/logic"
	"github.com/ccolleatte/dao-services/internal/model"
	"github.com/ccolleatte/dao-services/internal/validation"
	"gorm.io/gorm"
)

// 通知类型
const (
	NotificationConsultantSelected = "consultant_selected"
	NotificationMilestoneApproved  = "milestone_approved"
)

// disputeReason 链上事件不携带争议原因
const disputeReason = "Dispute raised on-chain"

// EventHandlers 链上事件到业务表的映射
type EventHandlers struct {
	now func() time.Time
}

// NewEventHandlers 创建事件处理器集合，now 为 nil 时使用 time.Now
func NewEventHandlers(now func() time.Time) *EventHandlers {
	if now == nil {
		now = time.Now
	}
	return &EventHandlers{now: now}
}

// Register 注册所有已知事件
func (h *EventHandlers) Register(pm *ProcessorManager) {
	// ServiceMarketplace
	pm.RegisterProcessor("MissionCreated", h.missionCreated)
	pm.RegisterProcessor("ApplicationSubmitted", h.applicationSubmitted)
	pm.RegisterProcessor("ConsultantSelected", h.consultantSelected)
	pm.RegisterProcessor("MissionStatusUpdated", h.missionStatusUpdated)

	// MissionEscrow
	pm.RegisterProcessor("MilestoneAdded", h.milestoneAdded)
	pm.RegisterProcessor("MilestoneSubmitted", h.milestoneSubmitted)
	pm.RegisterProcessor("MilestoneApproved", h.milestoneApproved)
	pm.RegisterProcessor("MilestoneRejected", h.milestoneRejected)
	pm.RegisterProcessor("DisputeRaised", h.disputeRaised)
	pm.RegisterProcessor("DisputeVoteCast", h.auditOnly)
	pm.RegisterProcessor("DisputeResolved", h.disputeResolved)

	// HybridPaymentSplitter
	pm.RegisterProcessor("ContributorAdded", h.auditOnly)
	pm.RegisterProcessor("UsageReported", h.auditOnly)
	pm.RegisterProcessor("PaymentDistributed", h.paymentDistributed)
	pm.RegisterProcessor("PricingUpdated", h.auditOnly)
}

// refs 审计日志关联的业务记录
type refs struct {
	mission   *int64
	milestone *int64
	dispute   *int64
}

// record 追加审计日志
func (h *EventHandlers) record(ctx context.Context, tx *gorm.DB, ev *chain.Event, data map[string]interface{}, r refs) error {
	entry := &model.TransactionModel{
		TransactionHash: ev.TxHash.Hex(),
		LogIndex:        ev.LogIndex,
		BlockNumber:     ev.BlockNumber,
		TransactionType: transactionType(ev.Name),
		ContractAddress: chain.Wallet(ev.ContractAddress),
		EventName:       ev.Name,
		MissionId:       r.mission,
		MilestoneId:     r.milestone,
		DisputeId:       r.dispute,
	}
	return logic.NewTransactionLogic(tx).Append(ctx, entry, data)
}

// missionCreated 关联链上任务：先按创建交易精确匹配，再按客户钱包与预算匹配
func (h *EventHandlers) missionCreated(ctx context.Context, tx *gorm.DB, ev *chain.Event) error {
	if err := validation.ValidateEventFields(ev.Args, "missionId", "client", "budget"); err != nil {
		return err
	}
	onChainID, err := ev.BigInt("missionId")
	if err != nil {
		return err
	}
	client, err := ev.Address("client")
	if err != nil {
		return err
	}
	budgetWei, err := ev.BigInt("budget")
	if err != nil {
		return err
	}
	if err := validation.ValidateNonNegativeAmount(budgetWei, "budget"); err != nil {
		return err
	}
	budget := chain.FormatEther(budgetWei)
	logger.Info("MissionCreated: missionId=%s, client=%s, budget=%s", onChainID, chain.Wallet(client), budget)

	missions := logic.NewMissionLogic(tx)
	mission, err := missions.FindByCreationTx(ctx, ev.TxHash.Hex())
	if err != nil {
		return err
	}
	if mission == nil {
		mission, err = missions.FindUnlinked(ctx, chain.Wallet(client), budget)
		if err != nil {
			return err
		}
	}

	var r refs
	if mission != nil {
		linked, err := missions.LinkOnChainID(ctx, mission.Id, onChainID.String(), budget, ev.BlockNumber)
		if err != nil {
			return err
		}
		if linked {
			logger.Info("Mission %d linked to on-chain mission %s", mission.Id, onChainID)
		} else {
			logger.Warn("Mission %d already linked, on-chain mission %s ignored", mission.Id, onChainID)
		}
		r.mission = &mission.Id
	} else {
		logger.Warn("No matching mission found for on-chain mission %s", onChainID)
	}

	return h.record(ctx, tx, ev, map[string]interface{}{
		"missionId": onChainID.String(),
		"client":    chain.Wallet(client),
		"budget":    budget.String(),
	}, r)
}

func (h *EventHandlers) applicationSubmitted(ctx context.Context, tx *gorm.DB, ev *chain.Event) error {
	if err := validation.ValidateEventFields(ev.Args, "applicationId", "missionId", "consultant"); err != nil {
		return err
	}
	applicationID, err := ev.BigInt("applicationId")
	if err != nil {
		return err
	}
	onChainMissionID, err := ev.BigInt("missionId")
	if err != nil {
		return err
	}
	consultant, err := ev.Address("consultant")
	if err != nil {
		return err
	}
	logger.Info("ApplicationSubmitted: appId=%s, missionId=%s", applicationID, onChainMissionID)

	mission, err := logic.NewMissionLogic(tx).FindByOnChainID(ctx, onChainMissionID.String())
	if err != nil {
		return err
	}

	var r refs
	if mission != nil {
		applications := logic.NewApplicationLogic(tx)
		application, err := applications.FindByMissionAndConsultant(ctx, mission.Id, chain.Wallet(consultant))
		if err != nil {
			return err
		}
		if application != nil {
			if err := applications.SetOnChainID(ctx, application.Id, applicationID.String()); err != nil {
				return err
			}
			logger.Info("Application synced: %d", application.Id)
		}
		r.mission = &mission.Id
	} else {
		logger.Warn("ApplicationSubmitted for unknown on-chain mission %s", onChainMissionID)
	}

	return h.record(ctx, tx, ev, map[string]interface{}{
		"applicationId": applicationID.String(),
		"missionId":     onChainMissionID.String(),
		"consultant":    chain.Wallet(consultant),
	}, r)
}

func (h *EventHandlers) consultantSelected(ctx context.Context, tx *gorm.DB, ev *chain.Event) error {
	if err := validation.ValidateEventFields(ev.Args, "missionId", "consultant", "matchScore"); err != nil {
		return err
	}
	onChainMissionID, err := ev.BigInt("missionId")
	if err != nil {
		return err
	}
	consultant, err := ev.Address("consultant")
	if err != nil {
		return err
	}
	matchScore, err := ev.BigInt("matchScore")
	if err != nil {
		return err
	}
	wallet := chain.Wallet(consultant)
	logger.Info("ConsultantSelected: missionId=%s, consultant=%s", onChainMissionID, wallet)

	missions := logic.NewMissionLogic(tx)
	mission, err := missions.FindByOnChainID(ctx, onChainMissionID.String())
	if err != nil {
		return err
	}

	var r refs
	if mission != nil {
		if err := missions.SelectConsultant(ctx, mission.Id, wallet, ev.BlockNumber); err != nil {
			return err
		}

		applications := logic.NewApplicationLogic(tx)
		application, err := applications.FindByMissionAndConsultant(ctx, mission.Id, wallet)
		if err != nil {
			return err
		}
		if application != nil {
			var score *int64
			if matchScore.IsInt64() {
				v := matchScore.Int64()
				score = &v
			}
			if err := applications.MarkSelected(ctx, application, score); err != nil {
				return err
			}
		}

		notification := &model.NotificationModel{
			RecipientWallet: wallet,
			Type:            NotificationConsultantSelected,
			Title:           "You were selected!",
			Message:         "A client has selected you for their mission",
			LinkUrl:         fmt.Sprintf("/missions/%d", mission.Id),
		}
		if err := logic.NewNotificationLogic(tx).Create(ctx, notification, map[string]interface{}{
			"mission_id":  mission.Id,
			"match_score": matchScore.String(),
		}); err != nil {
			return err
		}

		logger.Info("Consultant selected: %s for mission %d", wallet, mission.Id)
		r.mission = &mission.Id
	}

	return h.record(ctx, tx, ev, map[string]interface{}{
		"missionId":  onChainMissionID.String(),
		"consultant": wallet,
		"matchScore": matchScore.String(),
	}, r)
}

func (h *EventHandlers) missionStatusUpdated(ctx context.Context, tx *gorm.DB, ev *chain.Event) error {
	if err := validation.ValidateEventFields(ev.Args, "missionId", "newStatus"); err != nil {
		return err
	}
	onChainMissionID, err := ev.BigInt("missionId")
	if err != nil {
		return err
	}
	raw, err := ev.Uint64("newStatus")
	if err != nil {
		return err
	}
	status, ok := model.MissionStatusFromChain(raw)
	if !ok {
		return errs.NewValidationError("newStatus", "unknown mission status %d", raw)
	}

	missions := logic.NewMissionLogic(tx)
	mission, err := missions.FindByOnChainID(ctx, onChainMissionID.String())
	if err != nil {
		return err
	}

	var r refs
	if mission != nil {
		if err := missions.UpdateStatus(ctx, mission.Id, status, ev.BlockNumber); err != nil {
			return err
		}
		logger.Info("Mission %d status updated to %s", mission.Id, status)
		r.mission = &mission.Id
	}

	return h.record(ctx, tx, ev, map[string]interface{}{
		"missionId": onChainMissionID.String(),
		"newStatus": string(status),
	}, r)
}

// milestoneAdded 托管合约绑定了链下任务时创建里程碑，否则只记审计日志
func (h *EventHandlers) milestoneAdded(ctx context.Context, tx *gorm.DB, ev *chain.Event) error {
	if err := validation.ValidateEventFields(ev.Args, "milestoneId", "amount"); err != nil {
		return err
	}
	onChainID, err := ev.BigInt("milestoneId")
	if err != nil {
		return err
	}
	amountWei, err := ev.BigInt("amount")
	if err != nil {
		return err
	}
	if err := validation.ValidateNonNegativeAmount(amountWei, "amount"); err != nil {
		return err
	}
	description, _ := ev.Text("description")
	amount := chain.FormatEther(amountWei)

	data := map[string]interface{}{
		"milestoneId": onChainID.String(),
		"description": description,
		"amount":      amount.String(),
	}

	var r refs
	if ev.MissionId > 0 {
		id := onChainID.String()
		milestone := &model.MilestoneModel{
			MissionId:          ev.MissionId,
			OnChainMilestoneId: &id,
			EscrowAddress:      chain.Wallet(ev.ContractAddress),
			Description:        description,
			AmountDaos:         amount,
		}
		if deadline, err := ev.BigInt("deadline"); err == nil && deadline.Sign() > 0 && deadline.IsInt64() {
			at := time.Unix(deadline.Int64(), 0).UTC()
			milestone.Deadline = &at
			data["deadline"] = deadline.String()
		}
		if err := logic.NewMilestoneLogic(tx).Create(ctx, milestone); err != nil {
			return err
		}
		missionID := ev.MissionId
		r.mission = &missionID
		r.milestone = &milestone.Id
	}

	return h.record(ctx, tx, ev, data, r)
}

func (h *EventHandlers) milestoneSubmitted(ctx context.Context, tx *gorm.DB, ev *chain.Event) error {
	if err := validation.ValidateEventFields(ev.Args, "milestoneId"); err != nil {
		return err
	}
	onChainID, err := ev.BigInt("milestoneId")
	if err != nil {
		return err
	}
	deliverable, _ := ev.Text("deliverable")

	milestones := logic.NewMilestoneLogic(tx)
	milestone, err := milestones.FindByOnChainID(ctx, onChainID.String())
	if err != nil {
		return err
	}

	var r refs
	if milestone != nil {
		if err := milestones.Submit(ctx, milestone.Id, deliverable, h.now()); err != nil {
			return err
		}
		r.mission = &milestone.MissionId
		r.milestone = &milestone.Id
	}

	return h.record(ctx, tx, ev, map[string]interface{}{
		"milestoneId": onChainID.String(),
		"deliverable": deliverable,
	}, r)
}

func (h *EventHandlers) milestoneRejected(ctx context.Context, tx *gorm.DB, ev *chain.Event) error {
	if err := validation.ValidateEventFields(ev.Args, "milestoneId"); err != nil {
		return err
	}
	onChainID, err := ev.BigInt("milestoneId")
	if err != nil {
		return err
	}
	reason, _ := ev.Text("reason")

	milestones := logic.NewMilestoneLogic(tx)
	milestone, err := milestones.FindByOnChainID(ctx, onChainID.String())
	if err != nil {
		return err
	}

	var r refs
	if milestone != nil {
		if err := milestones.Reject(ctx, milestone.Id, reason); err != nil {
			return err
		}
		r.mission = &milestone.MissionId
		r.milestone = &milestone.Id
	}

	return h.record(ctx, tx, ev, map[string]interface{}{
		"milestoneId": onChainID.String(),
		"reason":      reason,
	}, r)
}

// milestoneApproved 里程碑通过后向任务选中的顾问记一笔支付并通知
func (h *EventHandlers) milestoneApproved(ctx context.Context, tx *gorm.DB, ev *chain.Event) error {
	if err := validation.ValidateEventFields(ev.Args, "milestoneId", "amountReleased"); err != nil {
		return err
	}
	onChainID, err := ev.BigInt("milestoneId")
	if err != nil {
		return err
	}
	amountWei, err := ev.BigInt("amountReleased")
	if err != nil {
		return err
	}
	if err := validation.ValidateNonNegativeAmount(amountWei, "amountReleased"); err != nil {
		return err
	}
	amount := chain.FormatEther(amountWei)
	logger.Info("MilestoneApproved: milestoneId=%s, amount=%s", onChainID, amount)

	milestones := logic.NewMilestoneLogic(tx)
	milestone, err := milestones.FindByOnChainID(ctx, onChainID.String())
	if err != nil {
		return err
	}

	var r refs
	if milestone != nil {
		if err := milestones.Approve(ctx, milestone.Id, h.now()); err != nil {
			return err
		}
		r.mission = &milestone.MissionId
		r.milestone = &milestone.Id

		mission, err := logic.NewMissionLogic(tx).Get(ctx, milestone.MissionId)
		if err != nil && !errors.Is(err, logic.ErrMissionNotFound) {
			return err
		}
		if mission != nil && mission.SelectedConsultantWallet != nil {
			recipient := *mission.SelectedConsultantWallet
			payment := &model.PaymentModel{
				MissionId:       &mission.Id,
				MilestoneId:     &milestone.Id,
				RecipientWallet: recipient,
				AmountDaos:      amount,
				ContributorType: model.ContributorHuman,
				TransactionHash: ev.TxHash.Hex(),
				LogIndex:        ev.LogIndex,
			}
			if err := logic.NewPaymentLogic(tx).Create(ctx, payment); err != nil {
				return err
			}

			notification := &model.NotificationModel{
				RecipientWallet: recipient,
				Type:            NotificationMilestoneApproved,
				Title:           "Milestone Approved",
				Message:         fmt.Sprintf("Payment of %s DAOS released", amount),
				LinkUrl:         fmt.Sprintf("/missions/%d", mission.Id),
			}
			if err := logic.NewNotificationLogic(tx).Create(ctx, notification, map[string]interface{}{
				"milestone_id": milestone.Id,
			}); err != nil {
				return err
			}
		} else {
			logger.Warn("Milestone %d approved but mission %d has no selected consultant", milestone.Id, milestone.MissionId)
		}
		logger.Info("Milestone approved: %d", milestone.Id)
	}

	return h.record(ctx, tx, ev, map[string]interface{}{
		"milestoneId":    onChainID.String(),
		"amountReleased": amount.String(),
	}, r)
}

// disputeRaised 创建争议并将里程碑与任务置为争议中
func (h *EventHandlers) disputeRaised(ctx context.Context, tx *gorm.DB, ev *chain.Event) error {
	if err := validation.ValidateEventFields(ev.Args, "disputeId", "milestoneId", "initiator"); err != nil {
		return err
	}
	disputeID, err := ev.BigInt("disputeId")
	if err != nil {
		return err
	}
	onChainMilestoneID, err := ev.BigInt("milestoneId")
	if err != nil {
		return err
	}
	initiator, err := ev.Address("initiator")
	if err != nil {
		return err
	}
	logger.Info("DisputeRaised: disputeId=%s, milestoneId=%s", disputeID, onChainMilestoneID)

	milestones := logic.NewMilestoneLogic(tx)
	milestone, err := milestones.FindByOnChainID(ctx, onChainMilestoneID.String())
	if err != nil {
		return err
	}

	var r refs
	if milestone != nil {
		dispute := &model.DisputeModel{
			OnChainDisputeId: disputeID.String(),
			MilestoneId:      milestone.Id,
			MissionId:        milestone.MissionId,
			InitiatorWallet:  chain.Wallet(initiator),
			Reason:           disputeReason,
		}
		if err := logic.NewDisputeLogic(tx).Create(ctx, dispute, h.now()); err != nil {
			return err
		}
		if err := milestones.UpdateStatus(ctx, milestone.Id, model.MilestoneStatusDisputed, nil); err != nil {
			return err
		}
		if err := logic.NewMissionLogic(tx).UpdateStatus(ctx, milestone.MissionId, model.MissionStatusDisputed, ev.BlockNumber); err != nil {
			return err
		}
		logger.Info("Dispute created for milestone %d", milestone.Id)
		r.mission = &milestone.MissionId
		r.milestone = &milestone.Id
		r.dispute = &dispute.Id
	}

	return h.record(ctx, tx, ev, map[string]interface{}{
		"disputeId":   disputeID.String(),
		"milestoneId": onChainMilestoneID.String(),
		"initiator":   chain.Wallet(initiator),
	}, r)
}

func (h *EventHandlers) disputeResolved(ctx context.Context, tx *gorm.DB, ev *chain.Event) error {
	if err := validation.ValidateEventFields(ev.Args, "disputeId", "winner", "amountAwarded"); err != nil {
		return err
	}
	disputeID, err := ev.BigInt("disputeId")
	if err != nil {
		return err
	}
	winner, err := ev.Address("winner")
	if err != nil {
		return err
	}
	amountWei, err := ev.BigInt("amountAwarded")
	if err != nil {
		return err
	}
	if err := validation.ValidateNonNegativeAmount(amountWei, "amountAwarded"); err != nil {
		return err
	}
	amount := chain.FormatEther(amountWei)

	disputes := logic.NewDisputeLogic(tx)
	dispute, err := disputes.FindByOnChainID(ctx, disputeID.String())
	if err != nil {
		return err
	}

	var r refs
	if dispute != nil {
		if err := disputes.Resolve(ctx, dispute.Id, chain.Wallet(winner), amount, h.now()); err != nil {
			return err
		}
		r.mission = &dispute.MissionId
		r.milestone = &dispute.MilestoneId
		r.dispute = &dispute.Id
	}

	return h.record(ctx, tx, ev, map[string]interface{}{
		"disputeId":     disputeID.String(),
		"winner":        chain.Wallet(winner),
		"amountAwarded": amount.String(),
	}, r)
}

// paymentDistributed 分账合约支付，任务ID取自合约配置
func (h *EventHandlers) paymentDistributed(ctx context.Context, tx *gorm.DB, ev *chain.Event) error {
	if err := validation.ValidateEventFields(ev.Args, "recipient", "amount", "contributorType"); err != nil {
		return err
	}
	recipient, err := ev.Address("recipient")
	if err != nil {
		return err
	}
	amountWei, err := ev.BigInt("amount")
	if err != nil {
		return err
	}
	if err := validation.ValidateNonNegativeAmount(amountWei, "amount"); err != nil {
		return err
	}
	rawType, err := ev.Uint64("contributorType")
	if err != nil {
		return err
	}
	amount := chain.FormatEther(amountWei)
	logger.Info("PaymentDistributed: recipient=%s, amount=%s", chain.Wallet(recipient), amount)

	var r refs
	if ev.MissionId > 0 {
		missionID := ev.MissionId
		r.mission = &missionID
	}

	payment := &model.PaymentModel{
		MissionId:       r.mission,
		RecipientWallet: chain.Wallet(recipient),
		AmountDaos:      amount,
		ContributorType: model.ContributorTypeFromChain(rawType),
		TransactionHash: ev.TxHash.Hex(),
		LogIndex:        ev.LogIndex,
	}
	if err := logic.NewPaymentLogic(tx).Create(ctx, payment); err != nil {
		return err
	}

	return h.record(ctx, tx, ev, map[string]interface{}{
		"recipient":       chain.Wallet(recipient),
		"amount":          amount.String(),
		"contributorType": rawType,
	}, r)
}

// auditOnly 只记审计日志的事件
func (h *EventHandlers) auditOnly(ctx context.Context, tx *gorm.DB, ev *chain.Event) error {
	var r refs
	if ev.MissionId > 0 {
		missionID := ev.MissionId
		r.mission = &missionID
	}
	return h.record(ctx, tx, ev, ev.Payload(), r)
}

// transactionType 事件名转审计日志类型，例如 MissionCreated -> mission_created
func transactionType(eventName string) string {
	var b strings.Builder
	for i, c := range eventName {
		if unicode.IsUpper(c) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(c))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}
