package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"bitwise74/course-video-api/internal/model"
	"bitwise74/course-video-api/pkg/util"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ArtifactStore is the remote object storage the pipeline publishes to
type ArtifactStore interface {
	PutBytes(ctx context.Context, key string, data []byte) error
	PutFile(ctx context.Context, key, path string) error
	PutDir(ctx context.Context, dir, prefix string) (int, error)
	URL(key string) string
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

type Options struct {
	LocalRoot     string // Scratch space and the local copy of every stream
	StreamRoot    string // Key root of streams, local and remote
	ThumbnailRoot string // Key root of thumbnails
	PurgeLocal    bool   // Remove the local stream once it is confirmed remote
	LocalBaseURL  string // Where LocalRoot is served from

	ReservationTTL time.Duration // How long a reserved id waits for its upload, 0 means forever
}

// Pipeline bundles the processing stages used by the asset manager
type Pipeline struct {
	Prober     *Prober
	Transcoder *Transcoder
	Thumbnails *ThumbnailExtractor
	Tracker    *Tracker
}

// AssetManager coordinates the life of video assets across the database,
// local scratch space and remote storage
type AssetManager struct {
	db    *gorm.DB
	store ArtifactStore
	p     Pipeline
	opts  Options
}

func NewAssetManager(db *gorm.DB, store ArtifactStore, p Pipeline, opts Options) *AssetManager {
	if opts.StreamRoot == "" {
		opts.StreamRoot = "videos"
	}
	if opts.ThumbnailRoot == "" {
		opts.ThumbnailRoot = "thumbnails"
	}
	if p.Tracker == nil {
		p.Tracker = NewTracker(0)
	}

	opts.StreamRoot = strings.Trim(opts.StreamRoot, "/")
	opts.ThumbnailRoot = strings.Trim(opts.ThumbnailRoot, "/")

	return &AssetManager{db: db, store: store, p: p, opts: opts}
}

func (m *AssetManager) Tracker() *Tracker {
	return m.p.Tracker
}

func (m *AssetManager) streamPrefix(courseID, videoID string) string {
	return path.Join(m.opts.StreamRoot, courseID, videoID)
}

func (m *AssetManager) thumbnailPrefix(courseID, videoID string) string {
	return path.Join(m.opts.ThumbnailRoot, courseID, videoID)
}

// localURL is the fallback delivery URL of a key that only exists on disk
func (m *AssetManager) localURL(key string) string {
	return strings.TrimRight(m.opts.LocalBaseURL, "/") + "/" + key
}

// Reserve hands out a video id before the upload starts so the client can
// follow its progress
func (m *AssetManager) Reserve() string {
	id := uuid.NewString()
	m.p.Tracker.Reserve(id, m.opts.ReservationTTL)

	return id
}

type CreateInput struct {
	CourseID    string
	Title       string
	Description string
	VideoID     string // Optional, from Reserve
	Filename    string
	File        io.Reader
}

type CreateResult struct {
	Video   *model.VideoAsset
	Ready   bool
	URL     string
	Warning string // Set when the asset is only available locally
}

const localOnlyWarning = "Video was saved but cloud delivery is unavailable, it is served from the local copy"

func (m *AssetManager) validateCreate(ctx context.Context, in *CreateInput) error {
	in.Title = strings.TrimSpace(in.Title)

	switch {
	case in.File == nil:
		return invalidInput("no file provided")
	case in.CourseID == "":
		return invalidInput("course id is required")
	case in.Title == "":
		return invalidInput("title is required")
	case !validID(in.CourseID):
		return invalidInput("malformed course id")
	}

	if in.VideoID != "" {
		if _, err := uuid.Parse(in.VideoID); err != nil {
			return invalidInput("malformed video id")
		}

		var n int64
		if err := m.db.WithContext(ctx).Model(&model.VideoAsset{}).Where("id = ?", in.VideoID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return invalidInput("video id already in use")
		}
	}

	var n int64
	if err := m.db.WithContext(ctx).Model(&model.Course{}).Where("id = ?", in.CourseID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("course %s, %w", in.CourseID, ErrNotFound)
	}

	return nil
}

// Create runs an upload through the whole pipeline. Only input errors and a
// failed transcode fail the call, every later problem degrades the result.
func (m *AssetManager) Create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	if err := m.validateCreate(ctx, &in); err != nil {
		// A reservation that never became a job ends here
		if st, ok := m.p.Tracker.Load(in.VideoID); ok && st.Stage == StageQueued {
			m.p.Tracker.Finish(in.VideoID, StageFailed)
		}

		return nil, err
	}

	videoID := in.VideoID
	if videoID == "" {
		videoID = uuid.NewString()
	}

	tr := m.p.Tracker
	tr.Stage(videoID, StageQueued)

	workDir := filepath.Join(m.opts.LocalRoot, "uploads", in.CourseID, util.RandStr(12))
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		tr.Finish(videoID, StageFailed)
		return nil, fmt.Errorf("failed to create work dir, %w", err)
	}
	// The raw upload and thumbnail candidates never outlive the call
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			zap.L().Warn("Failed to remove work dir", zap.String("dir", workDir), zap.Error(err))
		}
	}()

	rawPath := filepath.Join(workDir, "source"+rawExt(in.Filename))
	if err := saveRaw(rawPath, in.File); err != nil {
		tr.Finish(videoID, StageFailed)
		return nil, err
	}

	job := &TranscodeJob{
		VideoID:   videoID,
		CourseID:  in.CourseID,
		RawPath:   rawPath,
		OutputDir: filepath.Join(m.opts.LocalRoot, filepath.FromSlash(m.streamPrefix(in.CourseID, videoID))),
	}

	job.Duration = m.p.Prober.Duration(ctx, rawPath)

	tr.Stage(videoID, StageTranscoding)

	playlist, err := m.p.Transcoder.Transcode(ctx, job)
	if err != nil {
		if rmErr := os.RemoveAll(job.OutputDir); rmErr != nil {
			zap.L().Warn("Failed to remove partial transcode output", zap.String("dir", job.OutputDir), zap.Error(rmErr))
		}

		tr.Finish(videoID, StageFailed)
		createOutcomes.WithLabelValues(outcomeFailed).Inc()

		return nil, err
	}

	// Past this point the work is done, finish it even if the client left
	ctx = context.WithoutCancel(ctx)

	tr.Stage(videoID, StageThumbnailing)

	thumbs := model.ThumbnailList{}
	if best, ok := m.p.Thumbnails.Capture(ctx, playlist, job.Duration, filepath.Join(workDir, "thumbs")); ok {
		job.Candidates = []string{best}

		if t, err := m.uploadThumbnail(ctx, in.CourseID, videoID, best); err != nil {
			zap.L().Warn("Failed to upload thumbnail, continuing without one", zap.String("video_id", videoID), zap.Error(err))
		} else {
			thumbs = thumbs.Prepend(*t)
		}

		os.Remove(best)
	}

	streamKey := path.Join(m.streamPrefix(in.CourseID, videoID), PlaylistName)

	v := &model.VideoAsset{
		ID:          videoID,
		CourseID:    in.CourseID,
		Title:       in.Title,
		Description: in.Description,
		Duration:    job.Duration,
		StreamKey:   streamKey,
		StreamURL:   m.localURL(streamKey),
		Thumbnails:  thumbs,
		Status:      model.StatusReady,
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seq, err := nextSequence(tx, in.CourseID)
		if err != nil {
			return err
		}
		v.Sequence = seq

		if err := tx.Create(v).Error; err != nil {
			return fmt.Errorf("failed to create video record, %w", err)
		}

		return linkVideo(tx, in.CourseID, videoID)
	})
	if err != nil {
		os.RemoveAll(job.OutputDir)
		if len(thumbs) > 0 {
			m.bestEffortDeletePrefix(ctx, m.thumbnailPrefix(in.CourseID, videoID)+"/")
		}

		tr.Finish(videoID, StageFailed)
		createOutcomes.WithLabelValues(outcomeFailed).Inc()

		return nil, err
	}

	tr.Stage(videoID, StageUploading)

	res := &CreateResult{Video: v, Ready: true}

	if _, err := m.store.PutDir(ctx, job.OutputDir, m.streamPrefix(in.CourseID, videoID)); err != nil {
		zap.L().Error("Failed to upload stream, keeping local copy",
			zap.String("video_id", videoID),
			zap.String("dir", job.OutputDir),
			zap.Error(err))

		res.Warning = localOnlyWarning
	} else {
		remoteURL := m.store.URL(streamKey)

		err := m.db.WithContext(ctx).
			Model(v).
			Updates(map[string]any{"stream_url": remoteURL, "remote": true}).
			Error
		if err != nil {
			zap.L().Error("Failed to save remote stream url", zap.String("video_id", videoID), zap.Error(err))
			res.Warning = localOnlyWarning
		} else {
			v.StreamURL = remoteURL
			v.Remote = true

			if m.opts.PurgeLocal {
				if err := os.RemoveAll(job.OutputDir); err != nil {
					zap.L().Warn("Failed to purge local stream", zap.String("dir", job.OutputDir), zap.Error(err))
				}
			}
		}
	}

	if res.Warning != "" {
		createOutcomes.WithLabelValues(outcomeLocalOnly).Inc()
	} else {
		createOutcomes.WithLabelValues(outcomeOK).Inc()
	}

	tr.Finish(videoID, StageReady)
	res.URL = v.StreamURL

	zap.L().Info("Video created",
		zap.String("video_id", videoID),
		zap.String("course_id", in.CourseID),
		zap.Float64("duration", v.Duration),
		zap.Bool("remote", v.Remote),
		zap.Int("thumbnails", len(v.Thumbnails)))

	return res, nil
}

func (m *AssetManager) uploadThumbnail(ctx context.Context, courseID, videoID, p string) (*model.Thumbnail, error) {
	key := path.Join(m.thumbnailPrefix(courseID, videoID), util.RandStr(10)+".jpg")

	if err := m.store.PutFile(ctx, key, p); err != nil {
		return nil, err
	}

	return &model.Thumbnail{StorageKey: key, URL: m.store.URL(key)}, nil
}

func (m *AssetManager) Get(ctx context.Context, id string) (*model.VideoAsset, error) {
	var v model.VideoAsset

	err := m.db.WithContext(ctx).Where("id = ?", id).First(&v).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("video %s, %w", id, ErrNotFound)
		}

		return nil, err
	}

	return &v, nil
}

type UpdateInput struct {
	Title       *string
	Description *string
}

// Update patches the editable text fields of a video
func (m *AssetManager) Update(ctx context.Context, id string, in UpdateInput) (*model.VideoAsset, error) {
	updates := map[string]any{}

	if in.Title != nil {
		t := strings.TrimSpace(*in.Title)
		if t == "" {
			return nil, invalidInput("title can't be empty")
		}
		updates["title"] = t
	}

	if in.Description != nil {
		updates["description"] = *in.Description
	}

	if len(updates) == 0 {
		return nil, invalidInput("nothing to update")
	}

	v, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := m.db.WithContext(ctx).Model(v).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update video, %w", err)
	}

	return m.Get(ctx, id)
}

var thumbnailTypes = []string{"image/jpeg", "image/png", "image/webp"}

// ReplaceThumbnail stores a user supplied image as the newest thumbnail
func (m *AssetManager) ReplaceThumbnail(ctx context.Context, id string, data []byte) (*model.VideoAsset, error) {
	if len(data) == 0 {
		return nil, invalidInput("no image provided")
	}

	mt := mimetype.Detect(data)
	if !mimetype.EqualsAny(mt.String(), thumbnailTypes...) {
		return nil, invalidInput("unsupported image type " + mt.String())
	}

	v, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	key := path.Join(m.thumbnailPrefix(v.CourseID, v.ID), util.RandStr(10)+mt.Extension())
	if err := m.store.PutBytes(ctx, key, data); err != nil {
		return nil, fmt.Errorf("failed to upload thumbnail, %w", err)
	}

	return m.prependThumbnail(ctx, v, model.Thumbnail{StorageKey: key, URL: m.store.URL(key)})
}

// RegenerateThumbnail captures frames from the stored stream again. The local
// copy is used when it still exists, otherwise the remote playlist.
func (m *AssetManager) RegenerateThumbnail(ctx context.Context, id string) (*model.VideoAsset, error) {
	v, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	input := filepath.Join(m.opts.LocalRoot, filepath.FromSlash(v.StreamKey))
	if _, err := os.Stat(input); err != nil {
		if !v.Remote {
			return nil, fmt.Errorf("stream of video %s, %w", id, ErrNotFound)
		}
		input = v.StreamURL
	}

	duration := v.Duration
	if duration <= 0 {
		duration = m.p.Prober.Duration(ctx, input)
	}

	dir := filepath.Join(m.opts.LocalRoot, "uploads", v.CourseID, util.RandStr(12))
	defer os.RemoveAll(dir)

	best, ok := m.p.Thumbnails.Capture(ctx, input, duration, dir)
	if !ok {
		return nil, ErrNoThumbnail
	}

	t, err := m.uploadThumbnail(ctx, v.CourseID, v.ID, best)
	if err != nil {
		return nil, fmt.Errorf("failed to upload thumbnail, %w", err)
	}

	return m.prependThumbnail(ctx, v, *t)
}

func (m *AssetManager) prependThumbnail(ctx context.Context, v *model.VideoAsset, t model.Thumbnail) (*model.VideoAsset, error) {
	v.Thumbnails = v.Thumbnails.Prepend(t)

	err := m.db.WithContext(ctx).
		Model(v).
		Update("thumbnails", v.Thumbnails).
		Error
	if err != nil {
		if derr := m.store.Delete(context.WithoutCancel(ctx), t.StorageKey); derr != nil {
			zap.L().Warn("Failed to remove unreferenced thumbnail", zap.String("key", t.StorageKey), zap.Error(derr))
		}

		return nil, fmt.Errorf("failed to save thumbnails, %w", err)
	}

	return v, nil
}

// Delete removes a video and everything stored for it. Storage cleanup is
// best effort, the call succeeds once the record is gone.
func (m *AssetManager) Delete(ctx context.Context, id string) error {
	v, err := m.Get(ctx, id)
	if err != nil {
		return err
	}

	ctx = context.WithoutCancel(ctx)

	m.bestEffortDeletePrefix(ctx, m.streamPrefix(v.CourseID, v.ID)+"/")
	m.bestEffortDeletePrefix(ctx, m.thumbnailPrefix(v.CourseID, v.ID)+"/")

	if dir, err := m.localStreamDir(v.StreamKey); err != nil {
		zap.L().Warn("Not removing local files", zap.String("video_id", v.ID), zap.Error(err))
	} else if err := os.RemoveAll(dir); err != nil {
		zap.L().Warn("Failed to remove local files", zap.String("video_id", v.ID), zap.String("dir", dir), zap.Error(err))
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&model.VideoAsset{}, "id = ?", v.ID).Error; err != nil {
			return fmt.Errorf("failed to delete video record, %w", err)
		}

		return tx.Delete(&model.CourseVideo{}, "course_id = ? AND video_id = ?", v.CourseID, v.ID).Error
	})
	if err != nil {
		return err
	}

	m.p.Tracker.Forget(v.ID)
	zap.L().Info("Video deleted", zap.String("video_id", v.ID), zap.String("course_id", v.CourseID))

	return nil
}

func (m *AssetManager) bestEffortDeletePrefix(ctx context.Context, prefix string) int {
	n, err := m.store.DeletePrefix(ctx, prefix)
	prefixObjectsDeleted.Add(float64(n))

	if err != nil {
		zap.L().Error("Failed to delete remote objects", zap.String("prefix", prefix), zap.Int("deleted", n), zap.Error(err))
	}

	return n
}

// localStreamDir maps a stored stream key (or a URL that embeds one) back to
// the directory holding that video's files on disk
func (m *AssetManager) localStreamDir(key string) (string, error) {
	if u, err := url.Parse(key); err == nil && u.Scheme != "" {
		key = u.Path
	}

	key = path.Clean("/" + key)
	if i := strings.Index(key, "/"+m.opts.StreamRoot+"/"); i >= 0 {
		key = key[i:]
	}

	dir := path.Dir(key)
	root := path.Clean("/" + m.opts.StreamRoot)

	rel := strings.TrimPrefix(dir, root+"/")
	if rel == dir || strings.Count(rel, "/") != 1 {
		return "", fmt.Errorf("stream key %q doesn't point into a video dir", key)
	}

	return filepath.Join(m.opts.LocalRoot, filepath.FromSlash(strings.TrimPrefix(dir, "/"))), nil
}

func saveRaw(p string, r io.Reader) error {
	f, err := os.Create(p)
	if err != nil {
		return fmt.Errorf("failed to create raw file, %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("failed to save raw file, %w", err)
	}

	return f.Close()
}

func rawExt(name string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	if len(ext) < 2 || len(ext) > 6 {
		return ".bin"
	}

	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ".bin"
		}
	}

	return ext
}

// validID reports whether id is safe to use as a path segment
func validID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}
