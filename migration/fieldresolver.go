package migration

import (
	"context"

	"github.com/turnkit/align/domain"
)

// ProfileFieldLookup is the narrow slice of InterlocutorRepository the
// resolver needs: read one interlocutor's active field value.
type ProfileFieldLookup interface {
	GetProfile(ctx context.Context, tenantID, profileID domain.ID) (domain.InterlocutorProfile, error)
}

// ConversationExtractor extracts a single field's value from recent
// conversation turns via an LLM call, returning its confidence in [0,1].
// This module ships no implementation; NewService passes a nil extractor.
type ConversationExtractor interface {
	ExtractField(ctx context.Context, sessionID domain.ID, fieldName string) (value string, confidence float64, err error)
}

// MissingFieldResolver fills GAP_FILL's required fields from the
// interlocutor's profile before falling back to conversation extraction,
// using spec.md §4.5's USE threshold: a value whose confidence is at least
// UseThreshold is reported filled. NoConfirmThreshold is stored but not
// consulted by FillGap, and FillResult carries no confirmation flag.
type MissingFieldResolver struct {
	Profiles  ProfileFieldLookup
	Extractor ConversationExtractor // may be nil: extraction stage is skipped

	UseThreshold       float64
	NoConfirmThreshold float64
}

// NewMissingFieldResolver builds a resolver with spec.md's stated defaults
// (USE=0.85, NO_CONFIRM=0.95), overridable via the struct fields.
func NewMissingFieldResolver(profiles ProfileFieldLookup, extractor ConversationExtractor) *MissingFieldResolver {
	return &MissingFieldResolver{
		Profiles:           profiles,
		Extractor:          extractor,
		UseThreshold:       0.85,
		NoConfirmThreshold: 0.95,
	}
}

// FillGap attempts to resolve fieldName for the given session's
// interlocutor, trying the profile first and conversation extraction
// second. A value below UseThreshold is reported unfilled.
func (r *MissingFieldResolver) FillGap(ctx context.Context, tenantID domain.ID, s domain.Session, fieldName string) FillResult {
	if r.Profiles != nil {
		profile, err := r.Profiles.GetProfile(ctx, tenantID, s.InterlocutorID)
		if err == nil {
			if entry, ok := profile.ActiveField(fieldName); ok && entry.Confidence >= r.UseThreshold {
				return FillResult{
					FieldName:  fieldName,
					Filled:     true,
					Value:      entry.Value,
					Source:     SourceProfile,
					Confidence: entry.Confidence,
				}
			}
		}
	}

	if r.Extractor != nil {
		value, confidence, err := r.Extractor.ExtractField(ctx, s.ID, fieldName)
		if err == nil && confidence >= r.UseThreshold {
			return FillResult{
				FieldName:  fieldName,
				Filled:     true,
				Value:      value,
				Source:     SourceConversationExtraction,
				Confidence: confidence,
			}
		}
	}

	return FillResult{FieldName: fieldName, Filled: false}
}
