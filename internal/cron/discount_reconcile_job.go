package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/storefront-checkout/pkg/logger"
)

type usageReconciler interface {
	Reconcile(ctx context.Context) (int64, error)
}

type DiscountReconcileJobParams struct {
	Logger     *logger.Logger
	Reconciler usageReconciler
}

// NewDiscountReconcileJob rewrites discounts.used_count from the usage ledger.
func NewDiscountReconcileJob(params DiscountReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("usage reconciler required")
	}
	return &discountReconcileJob{logg: params.Logger, reconciler: params.Reconciler}, nil
}

type discountReconcileJob struct {
	logg       *logger.Logger
	reconciler usageReconciler
}

func (j *discountReconcileJob) Name() string { return "discount-usage-reconcile" }

func (j *discountReconcileJob) Run(ctx context.Context) error {
	fixed, err := j.reconciler.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("discount usage reconcile: %w", err)
	}
	logCtx := j.logg.WithField(ctx, "discounts_corrected", fixed)
	if fixed > 0 {
		j.logg.Warn(logCtx, "discount used_count drifted from ledger")
		return nil
	}
	j.logg.Info(logCtx, "discount usage counters match ledger")
	return nil
}
