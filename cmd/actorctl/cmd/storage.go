package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/actorkit/actorkit/pkg/models"
	"github.com/actorkit/actorkit/pkg/storage"
)

var (
	kvContentType string
	listLimit     int
	listOffset    int
)

// kvCmd represents the kv command
var kvCmd = &cobra.Command{
	Use:   "kv",
	Short: "Manage key-value stores",
	Long:  `Commands for reading and writing records in platform key-value stores.`,
}

var kvGetCmd = &cobra.Command{
	Use:   "get <store> <key>",
	Short: "Read a record",
	Long:  `Read one record from a key-value store. The store is resolved by name.`,
	Args:  cobra.ExactArgs(2),
	RunE:  runKVGet,
}

var kvSetCmd = &cobra.Command{
	Use:   "set <store> <key> <value>",
	Short: "Write a record",
	Long:  `Write one record to a key-value store, creating the store if needed.`,
	Args:  cobra.ExactArgs(3),
	RunE:  runKVSet,
}

var kvDeleteCmd = &cobra.Command{
	Use:   "delete <store> <key>",
	Short: "Delete a record",
	Args:  cobra.ExactArgs(2),
	RunE:  runKVDelete,
}

var kvKeysCmd = &cobra.Command{
	Use:   "keys <store>",
	Short: "List record keys",
	Args:  cobra.ExactArgs(1),
	RunE:  runKVKeys,
}

// datasetCmd represents the dataset command
var datasetCmd = &cobra.Command{
	Use:   "dataset",
	Short: "Manage datasets",
	Long:  `Commands for pushing and reading dataset items.`,
}

var datasetPushCmd = &cobra.Command{
	Use:   "push <dataset> <json-item>...",
	Short: "Push items to a dataset",
	Long:  `Append one or more JSON objects to a dataset, creating it if needed.`,
	Args:  cobra.MinimumNArgs(2),
	RunE:  runDatasetPush,
}

var datasetItemsCmd = &cobra.Command{
	Use:   "items <dataset>",
	Short: "List dataset items",
	Args:  cobra.ExactArgs(1),
	RunE:  runDatasetItems,
}

func init() {
	rootCmd.AddCommand(kvCmd)
	kvCmd.AddCommand(kvGetCmd)
	kvCmd.AddCommand(kvSetCmd)
	kvCmd.AddCommand(kvDeleteCmd)
	kvCmd.AddCommand(kvKeysCmd)

	rootCmd.AddCommand(datasetCmd)
	datasetCmd.AddCommand(datasetPushCmd)
	datasetCmd.AddCommand(datasetItemsCmd)

	kvSetCmd.Flags().StringVar(&kvContentType, "content-type", "application/json", "record content type")
	kvKeysCmd.Flags().IntVar(&listLimit, "limit", storage.DefaultListLimit, "maximum keys to return")
	datasetItemsCmd.Flags().IntVar(&listLimit, "limit", storage.DefaultListLimit, "maximum items to return")
	datasetItemsCmd.Flags().IntVar(&listOffset, "offset", 0, "items to skip")
}

func resolveStore(ctx context.Context, name string) (string, error) {
	info, err := apiClient().GetOrCreateKeyValueStore(ctx, name)
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

func runKVGet(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	storeID, err := resolveStore(ctx, args[0])
	if err != nil {
		return err
	}
	rec, err := apiClient().GetRecord(ctx, storeID, args[1])
	if err != nil {
		return err
	}
	if IsJSONOutput() {
		return printJSON(rec)
	}
	os.Stdout.Write(rec.Value)
	fmt.Println()
	return nil
}

func runKVSet(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	storeID, err := resolveStore(ctx, args[0])
	if err != nil {
		return err
	}
	rec := &models.KeyValueRecord{
		Key:         args[1],
		ContentType: kvContentType,
		Value:       []byte(args[2]),
	}
	if err := apiClient().SetRecord(ctx, storeID, rec); err != nil {
		return err
	}
	fmt.Printf("Stored %q in store %s\n", args[1], args[0])
	return nil
}

func runKVDelete(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	storeID, err := resolveStore(ctx, args[0])
	if err != nil {
		return err
	}
	if err := apiClient().DeleteRecord(ctx, storeID, args[1]); err != nil {
		return err
	}
	fmt.Printf("Deleted %q from store %s\n", args[1], args[0])
	return nil
}

func runKVKeys(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	storeID, err := resolveStore(ctx, args[0])
	if err != nil {
		return err
	}
	listing, err := apiClient().ListKeys(ctx, storeID, "", listLimit)
	if err != nil {
		return err
	}
	if IsJSONOutput() {
		return printJSON(listing)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Key", "Size")
	for _, k := range listing.Keys {
		table.Append(k.Key, fmt.Sprintf("%d", k.Size))
	}
	table.Render()
	fmt.Printf("\nTotal keys: %d (truncated: %v)\n", len(listing.Keys), listing.IsTruncated)
	return nil
}

func runDatasetPush(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	info, err := apiClient().GetOrCreateDataset(ctx, args[0])
	if err != nil {
		return err
	}

	items := make([]models.DatasetItem, 0, len(args)-1)
	for _, raw := range args[1:] {
		var item models.DatasetItem
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			return fmt.Errorf("invalid item JSON %q: %w", raw, err)
		}
		items = append(items, item)
	}

	if err := apiClient().PushItems(ctx, info.ID, items); err != nil {
		return err
	}
	fmt.Printf("Pushed %d item(s) to dataset %s\n", len(items), args[0])
	return nil
}

func runDatasetItems(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	info, err := apiClient().GetOrCreateDataset(ctx, args[0])
	if err != nil {
		return err
	}
	listing, err := apiClient().ListItems(ctx, info.ID, listOffset, listLimit)
	if err != nil {
		return err
	}
	if IsJSONOutput() {
		return printJSON(listing)
	}
	for _, item := range listing.Items {
		line, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to marshal item: %w", err)
		}
		fmt.Println(string(line))
	}
	fmt.Printf("\nTotal items: %d of %d\n", len(listing.Items), listing.Total)
	return nil
}
