package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"leadpilot/models"
)

// inFlightWindow is how recently a call record must have been touched
// to count as still in progress for the double-dial check.
const inFlightWindow = 60 * time.Second

// ExecuteAction runs one step's action and always returns a result
// map with at least a "success" key. Errors are captured per branch so
// a bad action never corrupts the execution's bookkeeping; only the
// loop's own structural failures use the retry path.
func (e *Engine) ExecuteAction(step *models.JourneyStep, lead *models.Lead, tenant *models.Tenant, lj *models.LeadJourney) (result models.JSONMap) {
	defer func() {
		if r := recover(); r != nil {
			e.log.WithField("step_id", step.ID).Errorf("action panicked: %v", r)
			result = models.JSONMap{"success": false, "error": fmt.Sprintf("action panic: %v", r)}
		}
	}()

	switch step.ActionType {
	case models.ActionCall:
		return e.executeCall(step, lead, tenant, lj)
	case models.ActionSMS:
		return e.executeMessage("sms", step, lead)
	case models.ActionEmail:
		return e.executeMessage("email", step, lead)
	case models.ActionStatusChange:
		return e.executeStatusChange(step, lead)
	case models.ActionTagUpdate:
		return e.executeTagUpdate(step, lead)
	case models.ActionWebhook:
		return e.executeWebhook(step, lead, tenant, lj)
	case models.ActionDelay:
		// The wait itself was realized by the scheduling calculator.
		return models.JSONMap{"success": true, "delayed": true}
	}

	return models.JSONMap{"success": false, "error": fmt.Sprintf("unknown action type %q", step.ActionType)}
}

// routing is the resolved call-routing config for one call step. An
// explicit transfer group on the step overrides the tenant defaults.
type routing struct {
	group         *models.TransferGroup
	ingroup       string
	agentAPI      *models.AgentAPIConfig
	dialerContext string
	brand         string
}

func (e *Engine) resolveRouting(step *models.JourneyStep, tenant *models.Tenant) routing {
	rt := routing{brand: tenant.Brand}
	if tenant.AgentAPI != nil {
		rt.agentAPI = tenant.AgentAPI
		rt.ingroup = tenant.AgentAPI.Ingroup
	}
	if tenant.AMI != nil {
		rt.dialerContext = tenant.AMI.Context
	}

	if gid := cfgInt(step.ActionConfig, "transfer_group_id"); gid > 0 {
		var group models.TransferGroup
		err := e.db.Preload("Numbers").
			Where("id = ? AND tenant_id = ? AND is_active = ?", gid, tenant.ID, true).
			First(&group).Error
		if err == nil {
			rt.group = &group
		} else {
			e.log.WithField("transfer_group_id", gid).Warn("configured transfer group not found")
		}
	}

	// Brand/ingroup lookup when the step names no group directly.
	if rt.group == nil {
		if brand := cfgString(step.ActionConfig, "brand", ""); brand != "" {
			var group models.TransferGroup
			err := e.db.Preload("Numbers").
				Where("tenant_id = ? AND brand = ? AND is_active = ?", tenant.ID, brand, true).
				First(&group).Error
			if err == nil {
				rt.group = &group
			}
			rt.brand = brand
		}
	}

	if rt.group != nil {
		if rt.group.Ingroup != "" {
			rt.ingroup = rt.group.Ingroup
		}
		if rt.group.AgentAPI != nil {
			rt.agentAPI = rt.group.AgentAPI
		}
		if rt.group.DialerContext != "" {
			rt.dialerContext = rt.group.DialerContext
		}
		if rt.group.Brand != "" {
			rt.brand = rt.group.Brand
		}
	}
	if ig := cfgString(step.ActionConfig, "ingroup", ""); ig != "" {
		rt.ingroup = ig
	}
	return rt
}

func (e *Engine) executeCall(step *models.JourneyStep, lead *models.Lead, tenant *models.Tenant, lj *models.LeadJourney) models.JSONMap {
	now := e.now()

	// Double-dial guard runs before anything else. A stale in-flight
	// record gets promoted to connected, but this attempt still skips.
	var inflight models.CallLog
	err := e.db.
		Where("lead_id = ? AND status IN ? AND ended_at IS NULL",
			lead.ID, []string{models.CallInitiated, models.CallAnswered}).
		Order("updated_at DESC").
		First(&inflight).Error
	if err == nil {
		if now.Sub(inflight.UpdatedAt) > inFlightWindow {
			if uerr := e.db.Model(&inflight).Update("status", models.CallConnected).Error; uerr != nil {
				e.log.WithError(uerr).Warn("failed to promote stale call")
			}
		}
		return models.JSONMap{"success": false, "skipped": true, "reason": "call_in_flight", "call_id": inflight.CallID}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.JSONMap{"success": false, "error": err.Error()}
	}

	rt := e.resolveRouting(step, tenant)

	// Agent availability fails open: an unreachable dialer API must
	// not silently strand every call step.
	if rt.ingroup != "" && rt.agentAPI != nil && e.agents != nil {
		available, aerr := e.agents.AgentsAvailable(rt.agentAPI, rt.ingroup)
		if aerr != nil {
			e.log.WithError(aerr).WithField("ingroup", rt.ingroup).Warn("agent availability check failed, assuming available")
			available = true
		}
		if !available {
			return models.JSONMap{"success": false, "rescheduled": true, "reason": "no_agents_available"}
		}
	}

	transferNumber, ringAll, terr := e.resolveTransferNumber(step, tenant, rt)
	if terr != nil {
		return models.JSONMap{"success": false, "error": terr.Error()}
	}

	did, derr := e.selectDID(tenant)
	if derr != nil {
		return models.JSONMap{"success": false, "error": derr.Error()}
	}

	call := models.CallLog{
		TenantID:       tenant.ID,
		LeadID:         lead.ID,
		LeadJourneyID:  &lj.ID,
		StepID:         &step.ID,
		CallID:         uuid.New().String(),
		Status:         models.CallInitiated,
		CallerID:       did,
		TransferNumber: transferNumber,
		Ingroup:        rt.ingroup,
		Brand:          rt.brand,
		DialerContext:  rt.dialerContext,
		StartedAt:      &now,
	}
	if err := e.db.Create(&call).Error; err != nil {
		return models.JSONMap{"success": false, "error": fmt.Sprintf("creating call record: %v", err)}
	}

	if err := e.db.Model(lead).Updates(map[string]interface{}{
		"call_attempts":   gorm.Expr("call_attempts + ?", 1),
		"status":          "contacted",
		"last_contact_at": now,
	}).Error; err != nil {
		e.log.WithError(err).WithField("lead_id", lead.ID).Warn("failed to update lead call counters")
	}
	lead.Status = "contacted"
	lead.CallAttempts++

	// Origination is fire-and-forget relative to the journey: adapter
	// failure degrades to a simulated success, never a failed step.
	if e.dialer == nil || tenant.AMI == nil {
		return models.JSONMap{"success": true, "simulated": true, "call_id": call.CallID}
	}

	req := OriginateRequest{
		CallID:         call.CallID,
		CallerID:       did,
		Destination:    lead.Phone,
		Context:        rt.dialerContext,
		TransferNumber: transferNumber,
		Ingroup:        rt.ingroup,
		Brand:          rt.brand,
		RecordingURL:   tenant.RecordingURL,
		Variables: map[string]string{
			"LEAD_ID":    fmt.Sprint(lead.ID),
			"JOURNEY_ID": fmt.Sprint(lj.JourneyID),
			"RING_ALL":   strings.Join(ringAll, ","),
		},
	}
	if oerr := e.dialer.Originate(tenant.AMI, req); oerr != nil {
		e.log.WithError(oerr).WithField("call_id", call.CallID).Warn("originate failed, recording simulated success")
		return models.JSONMap{"success": true, "simulated": true, "call_id": call.CallID}
	}

	return models.JSONMap{"success": true, "call_id": call.CallID, "transfer_number": transferNumber}
}

// resolveTransferNumber applies the selection precedence: a configured
// group (via the allocator), then a literal on the step, then the
// tenant fallback. For simultaneous groups the first number rides in
// the transfer field and the full set is returned for ring-all.
func (e *Engine) resolveTransferNumber(step *models.JourneyStep, tenant *models.Tenant, rt routing) (string, []string, error) {
	if rt.group != nil {
		nums, err := e.SelectTransferNumbers(rt.group)
		if err != nil {
			return "", nil, err
		}
		all := make([]string, len(nums))
		for i, n := range nums {
			all[i] = n.PhoneNumber
		}
		return all[0], all, nil
	}

	if literal := cfgString(step.ActionConfig, "transfer_number", ""); literal != "" {
		return literal, []string{literal}, nil
	}
	if tenant.FallbackTransferNumber != "" {
		return tenant.FallbackTransferNumber, []string{tenant.FallbackTransferNumber}, nil
	}
	return "", nil, errors.New("no transfer destination configured")
}

// selectDID picks the tenant's least-recently-used outbound caller ID
// and bumps its usage stats.
func (e *Engine) selectDID(tenant *models.Tenant) (string, error) {
	var did models.DID
	err := e.db.
		Where("tenant_id = ? AND is_active = ?", tenant.ID, true).
		Order("last_used_at ASC NULLS FIRST").
		First(&did).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", errors.New("tenant has no active outbound numbers")
	}
	if err != nil {
		return "", err
	}

	now := e.now()
	if err := e.db.Model(&did).Updates(map[string]interface{}{
		"total_calls":  gorm.Expr("total_calls + ?", 1),
		"last_used_at": now,
	}).Error; err != nil {
		return "", err
	}
	return did.Number, nil
}

func (e *Engine) executeMessage(channel string, step *models.JourneyStep, lead *models.Lead) models.JSONMap {
	if e.msgr == nil {
		return models.JSONMap{"success": true, "simulated": true, "channel": channel}
	}
	id, err := e.msgr.Send(channel, lead, step.ActionConfig)
	if errors.Is(err, ErrNotConfigured) {
		return models.JSONMap{"success": true, "simulated": true, "channel": channel}
	}
	if err != nil {
		return models.JSONMap{"success": false, "error": err.Error(), "channel": channel}
	}
	return models.JSONMap{"success": true, "message_id": id, "channel": channel}
}

func (e *Engine) executeStatusChange(step *models.JourneyStep, lead *models.Lead) models.JSONMap {
	newStatus := cfgString(step.ActionConfig, "new_status", "")
	if newStatus == "" {
		return models.JSONMap{"success": false, "error": "status_change step has no new_status"}
	}
	if err := e.db.Model(lead).Update("status", newStatus).Error; err != nil {
		return models.JSONMap{"success": false, "error": err.Error()}
	}
	previous := lead.Status
	lead.Status = newStatus
	return models.JSONMap{"success": true, "status": newStatus, "previous_status": previous}
}

func (e *Engine) executeTagUpdate(step *models.JourneyStep, lead *models.Lead) models.JSONMap {
	tags := cfgStringList(step.ActionConfig, "tags")
	op := cfgString(step.ActionConfig, "operation", "add")

	switch op {
	case "add":
		for _, t := range tags {
			if !lead.Tags.Contains(t) {
				lead.Tags = append(lead.Tags, t)
			}
		}
	case "remove":
		kept := lead.Tags[:0]
		for _, existing := range lead.Tags {
			drop := false
			for _, t := range tags {
				if existing == t {
					drop = true
					break
				}
			}
			if !drop {
				kept = append(kept, existing)
			}
		}
		lead.Tags = kept
	case "set":
		lead.Tags = tags
	default:
		return models.JSONMap{"success": false, "error": fmt.Sprintf("unknown tag operation %q", op)}
	}

	if err := e.db.Model(lead).Update("tags", lead.Tags).Error; err != nil {
		return models.JSONMap{"success": false, "error": err.Error()}
	}
	return models.JSONMap{"success": true, "operation": op, "tags": lead.Tags}
}

func (e *Engine) executeWebhook(step *models.JourneyStep, lead *models.Lead, tenant *models.Tenant, lj *models.LeadJourney) models.JSONMap {
	url := cfgString(step.ActionConfig, "url", "")
	if url == "" {
		return models.JSONMap{"success": false, "error": "webhook step has no url"}
	}
	method := strings.ToUpper(cfgString(step.ActionConfig, "method", "POST"))

	payload := map[string]interface{}{
		"event_id":  uuid.New().String(),
		"timestamp": e.now().UTC(),
		"tenant":    map[string]interface{}{"id": tenant.ID, "name": tenant.Name},
		"lead": map[string]interface{}{
			"id":         lead.ID,
			"email":      lead.Email,
			"phone":      lead.Phone,
			"first_name": lead.FirstName,
			"last_name":  lead.LastName,
			"status":     lead.Status,
			"tags":       lead.Tags,
		},
		"enrollment": map[string]interface{}{
			"id":         lj.ID,
			"journey_id": lj.JourneyID,
			"day_count":  lj.DayCount,
			"context":    lj.ContextData,
		},
	}

	if e.hooks == nil {
		return models.JSONMap{"success": true, "simulated": true}
	}
	status, body, err := e.hooks.Deliver(method, url, payload)
	if err != nil {
		return models.JSONMap{"success": false, "error": err.Error()}
	}
	if len(body) > 512 {
		body = body[:512]
	}
	return models.JSONMap{"success": status < 400, "status_code": status, "response": body}
}
