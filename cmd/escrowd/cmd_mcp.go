package main

import (
	"fmt"
	"log"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"escrow-backend/core/escrow"
	escrowmcp "escrow-backend/mcp"
)

var mcpFlags struct {
	as     string
	apiKey string
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the ledger as MCP tools over stdio",
	Long: `Starts an MCP server over stdin/stdout. With --as or --api-key every tool
acts as that identity; otherwise each call names its caller.`,
	RunE: runMCP,
}

func init() {
	f := mcpCmd.Flags()
	f.StringVar(&mcpFlags.as, "as", "", "Identity every tool call acts as")
	f.StringVar(&mcpFlags.apiKey, "api-key", "", "API key resolving to the identity tools act as")
	mcpCmd.MarkFlagsMutuallyExclusive("as", "api-key")
}

func runMCP(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	identity := escrow.Identity(mcpFlags.as)
	if mcpFlags.apiKey != "" {
		if a.keys == nil {
			return fmt.Errorf("--api-key given but no api keys are configured")
		}
		key, ok := a.keys.Resolve(ctx, mcpFlags.apiKey)
		if !ok {
			return fmt.Errorf("api key not recognized")
		}
		identity = key.Wallet
	}

	s := escrowmcp.NewMCPServer(a.ledger, identity)
	log.Printf("Escrow MCP server starting (driver=%s, identity=%q)", a.cfg.StoreDriver, identity)
	return server.ServeStdio(s.GetMCPServer())
}
