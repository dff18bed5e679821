package storage

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"VKMBot/config"
	"VKMBot/logger"
	"VKMBot/model"
)

const deliveryPrefix = "deliveries/"

// BucketStats summarizes a listing.
type BucketStats struct {
	TotalObjects int64
	TotalSize    int64
	LastModified time.Time
}

// ObjectInfo is one stored delivery.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
}

// Publisher uploads artifacts to MinIO and hands out presigned links.
type Publisher struct {
	client  *minio.Client
	bucket  string
	region  string
	linkTTL time.Duration
	now     func() time.Time
}

// NewPublisher connects to MinIO and makes sure the bucket exists.
func NewPublisher(ctx context.Context, cfg *config.Config) (*Publisher, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	p := &Publisher{
		client:  client,
		bucket:  cfg.MinioBucket,
		region:  cfg.MinioRegion,
		linkTTL: cfg.MinioLinkTTL,
		now:     time.Now,
	}
	if p.linkTTL <= 0 {
		p.linkTTL = time.Hour
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.ensureBucket(ctx); err != nil {
		return nil, err
	}
	logger.Info("[Storage] minio ready",
		logger.String("endpoint", cfg.MinioEndpoint),
		logger.String("bucket", p.bucket))
	return p, nil
}

func (p *Publisher) ensureBucket(ctx context.Context) error {
	exists, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", p.bucket, err)
	}
	if exists {
		return nil
	}
	if err := p.client.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{Region: p.region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", p.bucket, err)
	}
	logger.Info("[Storage] created bucket", logger.String("bucket", p.bucket))
	return nil
}

// Bucket returns the bucket deliveries are written to.
func (p *Publisher) Bucket() string { return p.bucket }

// Publish uploads the artifact and returns a time-limited download URL.
func (p *Publisher) Publish(ctx context.Context, userID int64, artifact *model.Artifact) (string, error) {
	name := objectName(userID, artifact.Path, p.now())
	contentType := contentTypeFor(artifact.Path)

	info, err := p.client.FPutObject(ctx, p.bucket, name, artifact.Path, minio.PutObjectOptions{
		ContentType: contentType,
		UserMetadata: objectMetadata(artifact),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}

	params := url.Values{}
	params.Set("response-content-disposition", contentDisposition(artifact))
	link, err := p.client.PresignedGetObject(ctx, p.bucket, name, p.linkTTL, params)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", name, err)
	}

	logger.Info("[Storage] published artifact",
		logger.Int64("userId", userID),
		logger.String("object", name),
		logger.Int64("bytes", info.Size))
	return link.String(), nil
}

// List returns deliveries under prefix, relative to the deliveries root.
func (p *Publisher) List(ctx context.Context, prefix string) ([]ObjectInfo, *BucketStats, error) {
	stats := &BucketStats{}
	var objects []ObjectInfo

	for object := range p.client.ListObjects(ctx, p.bucket, minio.ListObjectsOptions{
		Prefix:    deliveryPrefix + strings.TrimPrefix(prefix, "/"),
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, nil, fmt.Errorf("list objects: %w", object.Err)
		}
		stats.TotalObjects++
		stats.TotalSize += object.Size
		if object.LastModified.After(stats.LastModified) {
			stats.LastModified = object.LastModified
		}
		objects = append(objects, ObjectInfo{
			Key:          object.Key,
			Size:         object.Size,
			LastModified: object.LastModified,
			ContentType:  object.ContentType,
		})
	}
	return objects, stats, nil
}

// Prune deletes deliveries last modified before now-olderThan.
func (p *Publisher) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := p.now().Add(-olderThan)

	var stale []minio.ObjectInfo
	for object := range p.client.ListObjects(ctx, p.bucket, minio.ListObjectsOptions{
		Prefix:    deliveryPrefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return 0, fmt.Errorf("list objects: %w", object.Err)
		}
		if object.LastModified.Before(cutoff) {
			stale = append(stale, object)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	objectsCh := make(chan minio.ObjectInfo, len(stale))
	for _, obj := range stale {
		objectsCh <- obj
	}
	close(objectsCh)

	removed := len(stale)
	for rerr := range p.client.RemoveObjects(ctx, p.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if rerr.Err != nil {
			removed--
			logger.Warn("[Storage] failed to remove object",
				logger.String("object", rerr.ObjectName),
				logger.ErrorField(rerr.Err))
		}
	}
	logger.Info("[Storage] pruned deliveries",
		logger.Int("removed", removed),
		logger.Duration("olderThan", olderThan))
	return removed, nil
}

// objectName places a file under deliveries/<user>/<day>/.
func objectName(userID int64, filePath string, now time.Time) string {
	return path.Join(deliveryPrefix, fmt.Sprint(userID), model.DayOf(now), filepath.Base(filePath))
}

func contentTypeFor(filePath string) string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(filePath), ".")) {
	case "mp3":
		return "audio/mpeg"
	case "m4a", "aac":
		return "audio/mp4"
	case "opus", "ogg":
		return "audio/ogg"
	case "flac":
		return "audio/flac"
	case "wav":
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}

// objectMetadata returns the x-amz-meta-* values for artifact. Non-ASCII
// text is RFC 2047 encoded since S3 headers only carry ASCII portably.
func objectMetadata(artifact *model.Artifact) map[string]string {
	return map[string]string{
		"title":    mime.QEncoding.Encode("utf-8", artifact.Title),
		"uploader": mime.QEncoding.Encode("utf-8", artifact.Uploader),
	}
}

// contentDisposition names the download after the track title.
func contentDisposition(artifact *model.Artifact) string {
	title := strings.TrimSpace(artifact.Title)
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(artifact.Path), filepath.Ext(artifact.Path))
	}
	title = strings.NewReplacer(`"`, "'", "/", "-", `\`, "-").Replace(title)
	return mime.FormatMediaType("attachment", map[string]string{
		"filename": title + filepath.Ext(artifact.Path),
	})
}

// FormatSize renders a byte count with a binary unit.
func FormatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
