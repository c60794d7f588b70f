package api

import (
	"context"
	"encoding/json"

	"github.com/reelworks/reel-backend/internal/mesh"
)

var bus mesh.Bus

func SetBus(b mesh.Bus) { bus = b }
func getBus() mesh.Bus  { return bus }

func publishBusEvent(ctx context.Context, topic string, payload map[string]string) {
	if bus == nil {
		return
	}
	raw, _ := json.Marshal(payload)
	_ = bus.Publish(ctx, mesh.Event{Topic: topic, Payload: raw})
}

func PublishVideoReady(ctx context.Context, workspaceID, videoID string) {
	publishBusEvent(ctx, mesh.TopicVideoReady, map[string]string{"workspace_id": workspaceID, "video_id": videoID})
}

func PublishVideoFailed(ctx context.Context, workspaceID, videoID, reason string) {
	publishBusEvent(ctx, mesh.TopicVideoFailed, map[string]string{"workspace_id": workspaceID, "video_id": videoID, "reason": reason})
}

func PublishClipRendered(ctx context.Context, workspaceID, clipID string) {
	publishBusEvent(ctx, mesh.TopicClipRendered, map[string]string{"workspace_id": workspaceID, "clip_id": clipID})
}

func PublishPostPublished(ctx context.Context, workspaceID, postID string) {
	publishBusEvent(ctx, mesh.TopicPostPublished, map[string]string{"workspace_id": workspaceID, "post_id": postID})
}

func PublishMemberJoined(ctx context.Context, workspaceID, userID string) {
	publishBusEvent(ctx, mesh.TopicMemberJoined, map[string]string{"workspace_id": workspaceID, "user_id": userID})
}
