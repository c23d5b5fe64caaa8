// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/AleutianAI/AleutianVault/cmd/vault/gcs"
	"github.com/AleutianAI/AleutianVault/pkg/ux"
	"github.com/spf13/cobra"
)

// archiveContext bounds one archive operation. Archives can hold years
// of history, so these get more room than control-plane calls.
func archiveContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Minute)
}

func runExportArchive(cmd *cobra.Command, args []string) {
	client := newAPIClient(resolveServerBaseURL())
	ctx, cancel := archiveContext()
	defer cancel()

	var result *ExportResult
	err := ux.WithSpinner("Exporting history archive", func() error {
		var exportErr error
		result, exportErr = client.ExportArchive(ctx, args[0])
		return exportErr
	})
	if err != nil {
		log.Fatalf("Export failed: %v", err)
	}

	ux.Box("Export complete", fmt.Sprintf("%d history streams, %s\n%s",
		result.Files, formatBytes(result.Bytes), result.ArchivePath))
}

func runImportArchive(cmd *cobra.Command, args []string) {
	archivePath := args[0]
	if !confirmAction(
		"Import history archive?",
		fmt.Sprintf("Histories in %s will replace any live histories that differ. Matching streams are skipped.", archivePath),
	) {
		fmt.Println("Aborted.")
		return
	}

	client := newAPIClient(resolveServerBaseURL())
	ctx, cancel := archiveContext()
	defer cancel()

	var result *ImportResult
	err := ux.WithSpinner("Importing history archive", func() error {
		var importErr error
		result, importErr = client.ImportArchive(ctx, archivePath)
		return importErr
	})
	if err != nil {
		log.Fatalf("Import failed: %v", err)
	}

	ux.Summary(result.Imported, result.Skipped, result.Total)
	if len(result.Failures) > 0 {
		ux.Warning(fmt.Sprintf("%d stream(s) were not imported:", len(result.Failures)))
		for _, f := range result.Failures {
			ux.NoteStatus(f.Path, ux.IconError, f.Reason)
		}
	}
}

func runPushArchive(cmd *cobra.Command, args []string) {
	localPath := args[0]
	if _, err := os.Stat(localPath); err != nil {
		log.Fatalf("Archive not found: %v", err)
	}

	bucket, project, saKey := resolveGCSConfig()
	ctx, cancel := archiveContext()
	defer cancel()

	gcsClient, err := gcs.NewClient(ctx, project, bucket, saKey)
	if err != nil {
		log.Fatalf("GCS setup failed: %v", err)
	}
	defer gcsClient.Close()

	objectName := path.Join(gcsObjectPrefix, filepath.Base(localPath))
	var written int64
	err = ux.WithSpinner("Uploading "+filepath.Base(localPath), func() error {
		var uploadErr error
		written, uploadErr = gcsClient.UploadArchive(ctx, localPath, objectName)
		return uploadErr
	})
	if err != nil {
		log.Fatalf("Upload failed: %v", err)
	}

	ux.Success(fmt.Sprintf("Uploaded %s to gs://%s/%s (%s)",
		localPath, bucket, objectName, formatBytes(written)))
}

func runPullArchive(cmd *cobra.Command, args []string) {
	objectName := path.Join(gcsObjectPrefix, args[0])
	localPath := args[1]

	bucket, project, saKey := resolveGCSConfig()
	ctx, cancel := archiveContext()
	defer cancel()

	gcsClient, err := gcs.NewClient(ctx, project, bucket, saKey)
	if err != nil {
		log.Fatalf("GCS setup failed: %v", err)
	}
	defer gcsClient.Close()

	var written int64
	err = ux.WithSpinner("Downloading "+args[0], func() error {
		var downloadErr error
		written, downloadErr = gcsClient.DownloadArchive(ctx, objectName, localPath)
		return downloadErr
	})
	if err != nil {
		log.Fatalf("Download failed: %v", err)
	}

	ux.Success(fmt.Sprintf("Downloaded gs://%s/%s to %s (%s)",
		bucket, objectName, localPath, formatBytes(written)))
	ux.Muted("Restore it with: vault archive import " + localPath)
}

func runListRemoteArchives(cmd *cobra.Command, args []string) {
	bucket, project, saKey := resolveGCSConfig()
	ctx, cancel := archiveContext()
	defer cancel()

	gcsClient, err := gcs.NewClient(ctx, project, bucket, saKey)
	if err != nil {
		log.Fatalf("GCS setup failed: %v", err)
	}
	defer gcsClient.Close()

	objects, err := gcsClient.ListArchives(ctx, gcsObjectPrefix)
	if err != nil {
		log.Fatalf("Failed to list archives: %v", err)
	}

	if ux.GetPersonality().Level == ux.PersonalityMachine {
		for _, obj := range objects {
			fmt.Printf("%s\t%d\t%s\n", obj.Name, obj.Size, obj.Updated.Format(time.RFC3339))
		}
		return
	}

	if len(objects) == 0 {
		fmt.Printf("No archives under gs://%s/%s\n", bucket, gcsObjectPrefix)
		return
	}

	ux.Title("Remote Archives")
	for _, obj := range objects {
		fmt.Printf("  %s  %8s  %s\n",
			obj.Updated.Local().Format("2006-01-02 15:04"), formatBytes(obj.Size), obj.Name)
	}
	ux.Muted(fmt.Sprintf("%d archive(s) in gs://%s", len(objects), bucket))
}

// resolveGCSConfig merges the GCS flags with their environment
// fallbacks. Bucket and key are required; project is informational.
func resolveGCSConfig() (bucket, project, saKey string) {
	bucket = gcsBucket
	if bucket == "" {
		bucket = os.Getenv("VAULTBUDDY_GCS_BUCKET")
	}
	project = gcsProject
	if project == "" {
		project = os.Getenv("VAULTBUDDY_GCS_PROJECT")
	}
	saKey = gcsSAKeyPath
	if saKey == "" {
		saKey = os.Getenv("VAULTBUDDY_GCS_SA_KEY")
	}

	if bucket == "" {
		log.Fatalf("No GCS bucket configured. Pass --bucket or set VAULTBUDDY_GCS_BUCKET.")
	}
	if saKey == "" {
		log.Fatalf("No service account key configured. Pass --sa-key or set VAULTBUDDY_GCS_SA_KEY.")
	}
	return bucket, project, saKey
}
