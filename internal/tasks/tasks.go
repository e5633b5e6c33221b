package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // register the png decoder for image.Decode
	"log"
	"time"

	"github.com/hibiken/asynq"
	"github.com/nfnt/resize"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"kvartal/market/internal/apperr"
	"kvartal/market/internal/config"
	"kvartal/market/internal/models"
	"kvartal/market/internal/services"
	"kvartal/market/internal/storage"
)

// Task types handled by the background worker.
const (
	TypeImageProcess = "image:process"
	TypeListingPurge = "listing:purge"
	TypeSpaceAudit   = "space:audit"
)

// --- Task Client (Enqueuing tasks) ---

func NewClient(rdb *redis.Client) *asynq.Client {
	return asynq.NewClient(asynq.RedisClientOpt{
		Addr:     rdb.Options().Addr,
		Password: rdb.Options().Password,
		DB:       rdb.Options().DB,
	})
}

// ImageTaskPayload carries a raw S3 upload to process.
type ImageTaskPayload struct {
	S3Key     string `json:"s3_key"`
	ListingID string `json:"listing_id"`
}

// NewImageProcessTask builds the task enqueued after a client finishes a
// pre-signed upload.
func NewImageProcessTask(s3Key string, listingID primitive.ObjectID) (*asynq.Task, error) {
	payload, err := json.Marshal(ImageTaskPayload{S3Key: s3Key, ListingID: listingID.Hex()})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal image task payload: %w", err)
	}
	return asynq.NewTask(TypeImageProcess, payload, asynq.Queue("images")), nil
}

// NewListingPurgeTask builds the periodic purge task.
func NewListingPurgeTask() *asynq.Task {
	return asynq.NewTask(TypeListingPurge, nil, asynq.Queue("low"))
}

// NewSpaceAuditTask builds the periodic membership audit task.
func NewSpaceAuditTask() *asynq.Task {
	return asynq.NewTask(TypeSpaceAudit, nil, asynq.Queue("low"))
}

// --- Task Server (Processing tasks) ---

// TaskProcessor handles the processing of tasks.
// It holds dependencies needed by task handlers.
type TaskProcessor struct {
	cfg        *config.Config
	db         *mongo.Database
	media      storage.IMediaStorage
	listingSvc services.IListingService
}

func NewTaskProcessor(cfg *config.Config, db *mongo.Database, media storage.IMediaStorage, listingSvc services.IListingService) *TaskProcessor {
	return &TaskProcessor{
		cfg:        cfg,
		db:         db,
		media:      media,
		listingSvc: listingSvc,
	}
}

// SetupServer configures and returns an Asynq server instance running the
// registered handlers. Blocks until the server stops.
func SetupServer(rdb *redis.Client, processor *TaskProcessor) error {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     rdb.Options().Addr,
			Password: rdb.Options().Password,
			DB:       rdb.Options().DB,
		},
		asynq.Config{
			Queues: map[string]int{
				"default": 3,
				"images":  5,
				"low":     1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("[Asynq Error] Task Type: %s, Payload: %s, Error: %v", task.Type(), string(task.Payload()), err)
			}),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeImageProcess, processor.HandleImageProcessTask)
	mux.HandleFunc(TypeListingPurge, processor.HandleListingPurgeTask)
	mux.HandleFunc(TypeSpaceAudit, processor.HandleSpaceAuditTask)

	return srv.Run(mux)
}

// SetupScheduler returns a scheduler that enqueues the periodic maintenance
// tasks. The caller runs it alongside the task server.
func SetupScheduler(rdb *redis.Client) (*asynq.Scheduler, error) {
	scheduler := asynq.NewScheduler(
		asynq.RedisClientOpt{
			Addr:     rdb.Options().Addr,
			Password: rdb.Options().Password,
			DB:       rdb.Options().DB,
		},
		&asynq.SchedulerOpts{Location: time.UTC},
	)

	if _, err := scheduler.Register("@every 1h", NewListingPurgeTask()); err != nil {
		return nil, fmt.Errorf("failed to register purge task: %w", err)
	}
	if _, err := scheduler.Register("@every 6h", NewSpaceAuditTask()); err != nil {
		return nil, fmt.Errorf("failed to register audit task: %w", err)
	}
	return scheduler, nil
}

// --- Task Handlers ---

// maxRawImageBytes caps the size of a raw upload the worker will decode.
const maxRawImageBytes = 15 * 1024 * 1024

// HandleImageProcessTask downloads a raw upload, normalizes it and attaches
// the resulting URL to the listing.
func (p *TaskProcessor) HandleImageProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload ImageTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal image task payload: %v: %w", err, asynq.SkipRetry)
	}

	listingID, err := primitive.ObjectIDFromHex(payload.ListingID)
	if err != nil {
		return fmt.Errorf("invalid listing id %q in payload: %w", payload.ListingID, asynq.SkipRetry)
	}

	log.Printf("Processing image task: S3Key=%s, ListingID=%s", payload.S3Key, payload.ListingID)

	imgData, contentType, err := p.media.GetObject(ctx, payload.S3Key)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			// The upload never completed or the key is wrong.
			return fmt.Errorf("s3 object %s not found: %w", payload.S3Key, asynq.SkipRetry)
		}
		return fmt.Errorf("failed to download image from S3: %w", err)
	}

	if int64(len(imgData)) > maxRawImageBytes {
		log.Printf("Image %s exceeds max size (%d > %d bytes). Skipping.", payload.S3Key, len(imgData), maxRawImageBytes)
		return fmt.Errorf("image exceeds max size: %w", asynq.SkipRetry)
	}

	img, format, err := image.Decode(bytes.NewReader(imgData))
	if err != nil {
		return fmt.Errorf("unsupported image format or corrupt image: %v: %w", err, asynq.SkipRetry)
	}
	log.Printf("Decoded image %s, format: %s, size: %dx%d", payload.S3Key, format, img.Bounds().Dx(), img.Bounds().Dy())

	maxDim := uint(p.cfg.ImageMaxDimension)
	processedData := imgData
	if uint(img.Bounds().Dx()) > maxDim || uint(img.Bounds().Dy()) > maxDim {
		resized := resize.Thumbnail(maxDim, maxDim, img, resize.Lanczos3)
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85}); err != nil {
			return fmt.Errorf("failed to re-encode resized image: %w", err)
		}
		processedData = buf.Bytes()
		contentType = "image/jpeg"
		log.Printf("Resized image %s to %dx%d", payload.S3Key, resized.Bounds().Dx(), resized.Bounds().Dy())
	}

	if err := p.media.PutObject(ctx, payload.S3Key, contentType, processedData); err != nil {
		return fmt.Errorf("failed to upload processed image: %w", err)
	}

	if err := p.listingSvc.AttachImage(ctx, listingID, p.media.PublicURL(payload.S3Key)); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			// Listing was hard-removed while the image was in flight.
			return fmt.Errorf("listing %s gone: %w", payload.ListingID, asynq.SkipRetry)
		}
		return fmt.Errorf("failed to attach image to listing: %w", err)
	}

	log.Printf("Image task processed successfully: Key=%s, ListingID=%s", payload.S3Key, payload.ListingID)
	return nil
}

// HandleListingPurgeTask hard-removes listings that have been soft-deleted for
// longer than the retention window, together with any favorite rows that still
// point at them.
func (p *TaskProcessor) HandleListingPurgeTask(ctx context.Context, t *asynq.Task) error {
	cutoff := time.Now().UTC().Add(-p.cfg.PurgeDeletedAfter)
	log.Printf("Starting listing purge, cutoff %s", cutoff.Format(time.RFC3339))

	cursor, err := p.db.Collection("listings").Find(ctx, bson.M{
		"deleted":    true,
		"deleted_at": bson.M{"$lt": cutoff},
	})
	if err != nil {
		return fmt.Errorf("failed to find purgeable listings: %w", err)
	}
	var stale []models.Listing
	if err := cursor.All(ctx, &stale); err != nil {
		return fmt.Errorf("failed to decode purgeable listings: %w", err)
	}
	if len(stale) == 0 {
		log.Println("Listing purge: nothing to do.")
		return nil
	}

	ids := make([]primitive.ObjectID, 0, len(stale))
	for i := range stale {
		ids = append(ids, stale[i].ID)
	}

	// Favorites first so a crash between the two deletes never strands
	// favorite rows pointing at purged listings.
	if _, err := p.db.Collection("favorites").DeleteMany(ctx, bson.M{"product_id": bson.M{"$in": ids}}); err != nil {
		return fmt.Errorf("failed to purge favorites of deleted listings: %w", err)
	}
	result, err := p.db.Collection("listings").DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return fmt.Errorf("failed to purge listings: %w", err)
	}

	log.Printf("Listing purge finished. Removed %d listings.", result.DeletedCount)
	return nil
}

// HandleSpaceAuditTask verifies that every live space has exactly one owner
// member row and that it belongs to the space's owner_id. Anomalies are
// logged; with SPACE_AUDIT_REPAIR set a missing owner row is re-inserted.
func (p *TaskProcessor) HandleSpaceAuditTask(ctx context.Context, t *asynq.Task) error {
	log.Println("Starting space membership audit...")

	cursor, err := p.db.Collection("spaces").Find(ctx, bson.M{"deleted": false})
	if err != nil {
		return fmt.Errorf("failed to list spaces for audit: %w", err)
	}
	var spaces []models.Space
	if err := cursor.All(ctx, &spaces); err != nil {
		return fmt.Errorf("failed to decode spaces for audit: %w", err)
	}

	anomalies := 0
	for i := range spaces {
		space := &spaces[i]

		ownerRows, err := p.db.Collection("space_members").CountDocuments(ctx, bson.M{
			"space_id": space.ID,
			"role":     models.MemberOwner,
		})
		if err != nil {
			return fmt.Errorf("failed to count owner rows for space %s: %w", space.ID.Hex(), err)
		}

		switch {
		case ownerRows == 0:
			anomalies++
			log.Printf("AUDIT space %s (%s): no owner member row", space.ID.Hex(), space.Slug)
			if p.cfg.SpaceAuditRepair {
				now := time.Now().UTC()
				member := models.SpaceMember{
					Base:     models.NewBase(),
					SpaceID:  space.ID,
					UserID:   space.OwnerID,
					Role:     models.MemberOwner,
					JoinedAt: now,
				}
				if _, err := p.db.Collection("space_members").InsertOne(ctx, member); err != nil {
					log.Printf("AUDIT space %s: failed to repair owner row: %v", space.ID.Hex(), err)
				} else {
					log.Printf("AUDIT space %s: owner row re-inserted for user %s", space.ID.Hex(), space.OwnerID.Hex())
				}
			}
		case ownerRows > 1:
			anomalies++
			log.Printf("AUDIT space %s (%s): %d owner member rows", space.ID.Hex(), space.Slug, ownerRows)
		default:
			var ownerRow models.SpaceMember
			err := p.db.Collection("space_members").
				FindOne(ctx, bson.M{"space_id": space.ID, "role": models.MemberOwner}).Decode(&ownerRow)
			if err != nil {
				return fmt.Errorf("failed to load owner row for space %s: %w", space.ID.Hex(), err)
			}
			if ownerRow.UserID != space.OwnerID {
				anomalies++
				log.Printf("AUDIT space %s (%s): owner row user %s does not match owner_id %s",
					space.ID.Hex(), space.Slug, ownerRow.UserID.Hex(), space.OwnerID.Hex())
			}
		}
	}

	log.Printf("Space membership audit finished. Checked %d spaces, %d anomalies.", len(spaces), anomalies)
	return nil
}
