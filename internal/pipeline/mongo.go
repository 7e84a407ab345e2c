package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/campusbridge/cutover/pkg/models"
)

// MongoSource implements SourceStore over the operational document store.
type MongoSource struct {
	Client   *mongo.Client
	Database string
}

// NewMongoSource wraps a connected client.
func NewMongoSource(client *mongo.Client, database string) *MongoSource {
	return &MongoSource{Client: client, Database: database}
}

func (m *MongoSource) coll(name string) *mongo.Collection {
	return m.Client.Database(m.Database).Collection(name)
}

func toBSON(filter map[string]interface{}) bson.M {
	if filter == nil {
		return bson.M{}
	}
	return bson.M(filter)
}

func (m *MongoSource) EnumerateCollection(ctx context.Context, collection string, filter map[string]interface{}, fn func(doc map[string]interface{}) error) error {
	cursor, err := m.coll(collection).Find(ctx, toBSON(filter))
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
	return cursor.Err()
}

func (m *MongoSource) UpdateByID(ctx context.Context, collection string, id interface{}, set map[string]interface{}, unset []string) error {
	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = bson.M(set)
	}
	if len(unset) > 0 {
		u := bson.M{}
		for _, f := range unset {
			u[f] = ""
		}
		update["$unset"] = u
	}
	if len(update) == 0 {
		return nil
	}
	_, err := m.coll(collection).UpdateOne(ctx, bson.M{"_id": id}, update)
	return err
}

func (m *MongoSource) Count(ctx context.Context, collection string, filter map[string]interface{}) (int64, error) {
	return m.coll(collection).CountDocuments(ctx, toBSON(filter))
}

// RenameCollection runs the admin renameCollection command; the rename is
// atomic within the server, which is what makes archival safe.
func (m *MongoSource) RenameCollection(ctx context.Context, from, to string) error {
	cmd := bson.D{
		{Key: "renameCollection", Value: m.Database + "." + from},
		{Key: "to", Value: m.Database + "." + to},
	}
	return m.Client.Database("admin").RunCommand(ctx, cmd).Err()
}

func (m *MongoSource) LoadSubjects(ctx context.Context, collection string) ([]models.Subject, error) {
	var out []models.Subject
	err := m.EnumerateCollection(ctx, collection, nil, func(doc map[string]interface{}) error {
		out = append(out, subjectFromDoc(doc))
		return nil
	})
	return out, err
}

func (m *MongoSource) SetSubjectField(ctx context.Context, collection, sourceID, field string, value interface{}) error {
	id, err := docID(sourceID)
	if err != nil {
		return err
	}
	res, err := m.coll(collection).UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{field: value}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("subject %s in %s: %w", sourceID, collection, ErrNotFound)
	}
	return nil
}

func (m *MongoSource) LoadRelationships(ctx context.Context, collection string) ([]models.Relationship, error) {
	var out []models.Relationship
	err := m.EnumerateCollection(ctx, collection, nil, func(doc map[string]interface{}) error {
		out = append(out, relationshipFromDoc(doc))
		return nil
	})
	return out, err
}

func (m *MongoSource) DeactivateRelationships(ctx context.Context, collection, subjectSourceID string) (int64, error) {
	id, err := docID(subjectSourceID)
	if err != nil {
		return 0, err
	}
	res, err := m.coll(collection).UpdateMany(ctx,
		bson.M{"studentId": id, "isActive": true},
		bson.M{"$set": bson.M{
			"isActive":           false,
			"deactivatedAt":      primitive.NewDateTimeFromTime(nowUTC()),
			"deactivationReason": models.DeactivationSuperseded,
		}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (m *MongoSource) InsertRelationship(ctx context.Context, collection string, rel models.Relationship) error {
	studentID, err := docID(rel.SubjectID)
	if err != nil {
		return err
	}
	mentorID, err := docID(rel.MentorID)
	if err != nil {
		return err
	}
	doc := bson.M{
		"studentId":  studentID,
		"mentorId":   mentorID,
		"isActive":   rel.IsActive,
		"assignedAt": primitive.NewDateTimeFromTime(rel.AssignedAt),
	}
	_, err = m.coll(collection).InsertOne(ctx, doc)
	return err
}

func (m *MongoSource) ActiveRelationshipCounts(ctx context.Context, collection string) (map[string]int, error) {
	counts := make(map[string]int)
	err := m.EnumerateCollection(ctx, collection, map[string]interface{}{"isActive": true}, func(doc map[string]interface{}) error {
		counts[stringID(doc["studentId"])]++
		return nil
	})
	return counts, err
}

// subjectFromDoc adapts a raw person document into the normalized Subject.
// Legacy documents are loosely typed; anything missing decodes to the zero
// value and the natural-key logic copes from there.
func subjectFromDoc(doc map[string]interface{}) models.Subject {
	return models.Subject{
		SourceID:        stringID(doc["_id"]),
		Email:           asString(doc["email"]),
		RollNumber:      asString(doc["rollNumber"]),
		Name:            asString(doc["name"]),
		Role:            models.Role(asString(doc["role"])),
		ProfileImageKey: asString(doc["profileImageKey"]),
		ResumeKey:       asString(doc["resumeKey"]),
	}
}

func relationshipFromDoc(doc map[string]interface{}) models.Relationship {
	rel := models.Relationship{
		ID:                 stringID(doc["_id"]),
		SubjectID:          stringID(doc["studentId"]),
		MentorID:           stringID(doc["mentorId"]),
		DeactivationReason: asString(doc["deactivationReason"]),
	}
	if b, ok := doc["isActive"].(bool); ok {
		rel.IsActive = b
	}
	if dt, ok := doc["assignedAt"].(primitive.DateTime); ok {
		rel.AssignedAt = dt.Time()
	}
	if dt, ok := doc["deactivatedAt"].(primitive.DateTime); ok {
		t := dt.Time()
		rel.DeactivatedAt = &t
	}
	return rel
}

// docID converts a source identifier string back to its ObjectID form,
// falling back to the raw string for collections with string _ids.
func docID(sourceID string) (interface{}, error) {
	if oid, err := primitive.ObjectIDFromHex(sourceID); err == nil {
		return oid, nil
	}
	if sourceID == "" {
		return nil, fmt.Errorf("empty source id")
	}
	return sourceID, nil
}

func stringID(v interface{}) string {
	switch id := v.(type) {
	case primitive.ObjectID:
		return id.Hex()
	case string:
		return id
	default:
		return fmt.Sprintf("%v", v)
	}
}

func nowUTC() time.Time { return time.Now().UTC() }

func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
