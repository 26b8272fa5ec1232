package logic

import (
	"context"
	"fmt"

	"github.com/patrickwarner/dcoserve/internal/models"
)

// ResolveCampaign picks the served version among stored campaign records
// using models.CurrentVersion.
func ResolveCampaign(records []models.CampaignRecord) (*models.CampaignRecord, error) {
	if len(records) == 0 {
		return nil, models.ErrNotFound
	}
	current, active := models.CurrentVersion(records)
	if !active {
		return nil, fmt.Errorf("%w: campaign %q template %q has %d inactive versions",
			models.ErrNoActiveCampaign, records[0].CampaignID, records[0].TemplateID, len(records))
	}
	return current, nil
}

// CampaignResolver fetches campaign versions from the store and resolves the
// current one.
type CampaignResolver struct {
	Store models.Store
}

// Resolve returns the current active record for the campaign/template pair.
func (r CampaignResolver) Resolve(ctx context.Context, campaignID, templateID string) (*models.CampaignRecord, error) {
	if r.Store == nil {
		return nil, ErrNilStore
	}
	records, err := r.Store.GetCampaignRecords(ctx, campaignID, templateID)
	if err != nil {
		return nil, storageError("get campaign records", err)
	}
	rec, err := ResolveCampaign(records)
	if err != nil {
		if err == models.ErrNotFound {
			return nil, fmt.Errorf("%w: campaign %q for template %q", models.ErrNotFound, campaignID, templateID)
		}
		return nil, err
	}
	return rec, nil
}
