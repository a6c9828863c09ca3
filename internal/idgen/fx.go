package idgen

import (
	"fmt"
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

// NewNode reads the process's snowflake node id from SNOWFLAKE_NODE_ID,
// defaulting to 1 for the common single-instance deployment. Multi-node
// deployments must set this per replica to keep ids collision-free.
func NewNode() (*snowflake.Node, error) {
	id := int64(1)
	if raw := os.Getenv("SNOWFLAKE_NODE_ID"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("idgen: invalid SNOWFLAKE_NODE_ID: %w", err)
		}
		id = parsed
	}
	return snowflake.NewNode(id)
}

var Module = fx.Module("idgen",
	fx.Provide(NewNode),
	fx.Provide(New),
)
