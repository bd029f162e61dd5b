// Package receipt applies delivery receipts reported by devices.
package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"wakeline/internal/metrics"
	"wakeline/internal/registry"
	"wakeline/pkg/models"
)

// ValidationError lists the required receipt fields that were empty.
type ValidationError struct {
	MissingFields []string
}

func (e *ValidationError) Error() string {
	return "missing fields: " + strings.Join(e.MissingFields, ", ")
}

// Log is the receipt audit trail, implemented by *database.DB.
type Log interface {
	SaveReceipt(ctx context.Context, r models.DeliveryReceipt, acknowledged bool) error
}

type Result struct {
	Success              bool `json:"success"`
	Acknowledged         bool `json:"acknowledged"`
	RetryTrackingCleared bool `json:"retryTrackingCleared"`
}

type Processor struct {
	reg      *registry.Registry
	receipts Log
	validate *validator.Validate
	log      *slog.Logger
}

// New builds a processor. receipts may be nil.
func New(reg *registry.Registry, receipts Log, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Processor{
		reg:      reg,
		receipts: receipts,
		validate: v,
		log:      log.With(slog.String("component", "receipt")),
	}
}

func (p *Processor) check(r models.DeliveryReceipt) error {
	err := p.validate.Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	missing := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		missing = append(missing, fe.Field())
	}
	sort.Strings(missing)
	return &ValidationError{MissingFields: missing}
}

// Process validates r and folds it into the matching pending call. A receipt
// for an unknown call still succeeds, with Acknowledged false.
func (p *Processor) Process(ctx context.Context, r models.DeliveryReceipt) (Result, error) {
	r.Status = models.ReceiptStatus(strings.ToLower(strings.TrimSpace(string(r.Status))))
	if err := p.check(r); err != nil {
		return Result{}, err
	}
	if r.ReceivedAt.IsZero() {
		r.ReceivedAt = p.reg.Now()
	}

	log := p.log.With(
		slog.String("callUUID", r.CallUUID),
		slog.String("userId", r.UserID),
		slog.String("status", string(r.Status)),
	)

	var res Result
	switch r.Status {
	case models.ReceiptDelivered, models.ReceiptAnswered, models.ReceiptConnected:
		acked, err := p.reg.Acknowledge(ctx, r.CallUUID)
		if err != nil {
			return Result{}, fmt.Errorf("apply receipt: %w", err)
		}
		res = Result{Success: true, Acknowledged: acked, RetryTrackingCleared: acked}
	case models.ReceiptDeclined, models.ReceiptFailed:
		if _, err := p.reg.RecordSignal(ctx, r.CallUUID, models.RetryReason(r.Status)); err != nil {
			return Result{}, fmt.Errorf("apply receipt: %w", err)
		}
		res = Result{Success: true}
	default:
		log.Info("receipt status not tracked")
		res = Result{Success: true}
	}

	if !res.Acknowledged {
		if _, found, err := p.reg.GetStatus(ctx, r.CallUUID); err == nil && !found {
			log.Warn("receipt for unknown call")
		}
	}

	metrics.ReceiptsTotal.WithLabelValues(string(r.Status), strconv.FormatBool(res.Acknowledged)).Inc()
	log.Info("receipt processed", slog.Bool("acknowledged", res.Acknowledged))

	if p.receipts != nil {
		logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := p.receipts.SaveReceipt(logCtx, r, res.Acknowledged); err != nil {
			log.Warn("failed to append receipt log", slog.Any("error", err))
		}
	}
	return res, nil
}
