package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/wuwenbin0122/mortgage-advisor/internal/models"
	"github.com/wuwenbin0122/mortgage-advisor/internal/utils"
)

// Mongo archives one document per completed assessment.
type Mongo struct {
	Client      *mongo.Client
	Database    *mongo.Database
	Assessments *mongo.Collection
}

func NewMongo(ctx context.Context, cfg utils.MongoConfig) (*Mongo, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongo: uri is required")
	}

	clientOpts := options.Client().ApplyURI(cfg.URI)
	if cfg.ConnectTimeout > 0 {
		clientOpts.SetServerSelectionTimeout(cfg.ConnectTimeout)
	}

	ctx, cancel := context.WithTimeout(ctx, timeoutOrDefault(cfg.ConnectTimeout))
	defer cancel()

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}

	db := client.Database(cfg.Database)
	store := &Mongo{
		Client:      client,
		Database:    db,
		Assessments: db.Collection("assessments"),
	}

	return store, nil
}

func (m *Mongo) Close(ctx context.Context) error {
	if m == nil || m.Client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return m.Client.Disconnect(ctx)
}

func (m *Mongo) EnsureCollections(ctx context.Context) error {
	if m == nil || m.Database == nil {
		return fmt.Errorf("mongo: database not initialised")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := m.Assessments.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "conversation_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("mongo: ensure assessment index: %w", err)
	}

	_, err = m.Assessments.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "outcome", Value: 1}, {Key: "completed_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("mongo: ensure outcome index: %w", err)
	}

	return nil
}

// ArchiveAssessment records the completion event of a conversation. The result is
// immutable, so a second archive for the same conversation is a no-op.
func (m *Mongo) ArchiveAssessment(ctx context.Context, conversationID string, result *models.AssessmentResult) error {
	if m == nil || m.Assessments == nil {
		return fmt.Errorf("mongo: database not initialised")
	}
	if result == nil {
		return fmt.Errorf("mongo: assessment result is nil")
	}

	_, err := m.Assessments.InsertOne(ctx, assessmentDocument(conversationID, result, time.Now().UTC()))
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("mongo: archive assessment: %w", err)
	}
	return nil
}

func assessmentDocument(conversationID string, result *models.AssessmentResult, completedAt time.Time) bson.M {
	inputs := bson.M{
		string(models.FieldAnnualIncome):  result.Inputs.AnnualIncome,
		string(models.FieldMonthlyDebt):   result.Inputs.MonthlyDebt,
		string(models.FieldPropertyValue): result.Inputs.PropertyValue,
		string(models.FieldDownPayment):   result.Inputs.DownPayment,
		string(models.FieldCreditTier):    nil,
	}
	if result.Inputs.CreditTier != nil {
		inputs[string(models.FieldCreditTier)] = string(*result.Inputs.CreditTier)
	}

	return bson.M{
		"conversation_id": conversationID,
		"user_inputs":     inputs,
		"dti_ratio":       ratioValue(result.Metrics.DTIRatio),
		"ltv_ratio":       ratioValue(result.Metrics.LTVRatio),
		"outcome":         string(result.Assessment.Outcome),
		"notes":           result.Assessment.Notes,
		"completed_at":    completedAt,
	}
}

// ratioValue stores non-finite ratios as null so the documents stay queryable with $gt/$lt.
func ratioValue(r models.Ratio) any {
	if !r.Finite() {
		return nil
	}
	return float64(r)
}

func timeoutOrDefault(value time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return 10 * time.Second
}
