package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flowgate/flowgate/internal/config"
	serverhttp "github.com/flowgate/flowgate/internal/http"
	"github.com/flowgate/flowgate/internal/log"
	internal_storage "github.com/flowgate/flowgate/internal/storage"
	"github.com/flowgate/flowgate/pkg/engine"
	"github.com/flowgate/flowgate/pkg/registry"
	"github.com/flowgate/flowgate/pkg/sandbox"
	"github.com/flowgate/flowgate/pkg/service"
	"github.com/flowgate/flowgate/pkg/storage"
	"github.com/flowgate/flowgate/pkg/trace"
)

func SetupCLI(rootCmd *cobra.Command) {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the flowgate server",
		Run: func(cmd *cobra.Command, args []string) {
			settings := config.Load()
			store := initStore(settings)
			defer store.Close()

			logger := log.GetLogger()
			reg := registry.New(store, logger)
			defer reg.CloseAll()

			tracer := trace.New(settings.TraceDir, logger)
			builder := sandbox.NewBuilder(reg, logger)
			eng := engine.New(builder, tracer, logger)
			crud := engine.NewCRUDExecutor(store.DB())
			dispatcher := engine.NewDispatcher(store, eng, crud, logger)

			workflows := service.NewWorkflowService(store, eng, logger)
			configs := service.NewConfigService(store, reg, logger)

			srv := serverhttp.NewServer(store, workflows, configs, dispatcher, tracer)
			addr := settings.Host + ":" + settings.Port
			if err := serverhttp.StartServer(addr, srv); err != nil {
				logger.Errorf("Server failed: %v", err)
				os.Exit(1)
			}
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all workflows",
		Run: func(cmd *cobra.Command, args []string) {
			settings := config.Load()
			store := initStore(settings)
			defer store.Close()
			listWorkflows(store)
		},
	}

	invokeCmd := &cobra.Command{
		Use:   "invoke [name]",
		Short: "Run a workflow by name",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			rawBody, err := cmd.Flags().GetString("body")
			if err != nil {
				log.GetLogger().Errorf("Error retrieving body flag: %v", err)
				os.Exit(1)
			}
			body := map[string]interface{}{}
			if rawBody != "" {
				if err := json.Unmarshal([]byte(rawBody), &body); err != nil {
					fmt.Fprintf(os.Stderr, "Error: invalid JSON body: %v\n", err)
					os.Exit(1)
				}
			}
			body["workflow_name"] = args[0]

			settings := config.Load()
			store := initStore(settings)
			defer store.Close()
			invokeWorkflow(store, settings, body)
		},
	}
	invokeCmd.Flags().String("body", "", "JSON request body for the workflow")

	rootCmd.AddCommand(serveCmd, listCmd, invokeCmd)
}

func initStore(settings config.Settings) *internal_storage.SQLStore {
	store, err := internal_storage.InitStore(settings.MetadataDriver, settings.MetadataDSN)
	if err != nil {
		log.GetLogger().Errorf("Failed to initialize store: %v", err)
		fmt.Fprintf(os.Stderr, "Error: failed to initialize store: %v\n", err)
		os.Exit(1)
	}
	return store
}

func listWorkflows(store storage.Store) {
	workflows, err := store.ListWorkflows()
	if err != nil {
		log.GetLogger().Errorf("Failed to list workflows: %v", err)
		fmt.Fprintf(os.Stderr, "Error: failed to list workflows: %v\n", err)
		os.Exit(1)
	}
	if len(workflows) == 0 {
		fmt.Println("No workflows found.")
		return
	}
	for _, wf := range workflows {
		fmt.Printf("- ID: %d, Name: %s, Enabled: %v, Logging: %v\n", wf.ID, wf.Name, wf.Enabled, wf.LoggingEnabled)
	}
}

func invokeWorkflow(store *internal_storage.SQLStore, settings config.Settings, body map[string]interface{}) {
	logger := log.GetLogger()
	reg := registry.New(store, logger)
	defer reg.CloseAll()

	tracer := trace.New(settings.TraceDir, logger)
	builder := sandbox.NewBuilder(reg, logger)
	eng := engine.New(builder, tracer, logger)
	svc := service.NewWorkflowService(store, eng, logger)

	result, err := svc.Invoke(body)
	if err != nil {
		logger.Errorf("Failed to invoke workflow: %v", err)
		fmt.Fprintf(os.Stderr, "Error: failed to invoke workflow: %v\n", err)
		os.Exit(1)
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to render result: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}
