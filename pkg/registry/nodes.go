package registry

import (
	"github.com/mik3lol/n8n-nodes-databricks/pkg/nodes/agent"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/nodes/databricks"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/nodes/embeddings"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/nodes/lmchat"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/nodes/vectorstore"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/protocol"
)

// RegisterDefaultNodes registers all built-in node factories with the registry.
func (r *Registry) RegisterDefaultNodes(deps protocol.Dependencies) {
	if deps.Logger == nil {
		deps.Logger = r.logger
	}

	r.RegisterNode(databricks.NewDatabricksNodeFactory(deps))

	r.RegisterNode(lmchat.NewChatNodeFactory(deps))
	r.RegisterNode(embeddings.NewEmbeddingsNodeFactory(deps))
	r.RegisterNode(vectorstore.NewVectorStoreNodeFactory(deps))

	r.RegisterNode(agent.NewAgentNodeFactory(deps))
}
