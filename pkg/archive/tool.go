package archive

import (
	"context"
	"errors"
	"fmt"

	"github.com/harun/stepwise/pkg/toolexecutor"
)

// RetrieveToolName is the tool that resolves archive ids.
const RetrieveToolName = "retrieve_msg"

// RetrieveTool returns the retrieve_msg tool definition.
func RetrieveTool(store Store) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name: RetrieveToolName,
		Description: "Retrieve the original content of an archived message. " +
			"Use it when a step reads '" + RetrievePrefix + "<id>' and the content is needed.",
		Kit: "context",
		Parameters: []toolexecutor.ToolParameter{
			{
				Name:        "msg_id",
				Type:        "string",
				Description: "Archived message id",
				Required:    true,
			},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			msgID, _ := params["msg_id"].(string)
			return Retrieve(ctx, store, msgID)
		},
	}
}

// Retrieve returns the archived text, or a not-found observation.
func Retrieve(ctx context.Context, store Store, msgID string) (string, error) {
	rec, err := store.GetMessage(ctx, msgID)
	if errors.Is(err, ErrNotFound) {
		return fmt.Sprintf("no found message by msg_id=%s", msgID), nil
	}
	if err != nil {
		return "", err
	}
	return rec.Message, nil
}

// RegisterRetrieveTool adds retrieve_msg to executor.
func RegisterRetrieveTool(executor *toolexecutor.ToolExecutor, store Store) error {
	return executor.RegisterTool(RetrieveTool(store))
}
