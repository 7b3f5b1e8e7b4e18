/*
Copyright 2025 The PTU Reconciler Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"k8s.io/klog/v2"

	"github.com/azureops/ptu-reconciler/pkg/alert"
	"github.com/azureops/ptu-reconciler/pkg/cloud"
	"github.com/azureops/ptu-reconciler/pkg/config"
	"github.com/azureops/ptu-reconciler/pkg/reconciler"
	"github.com/azureops/ptu-reconciler/pkg/retry"
	"github.com/azureops/ptu-reconciler/pkg/types"
)

var (
	action         string
	subscriptionID string
	resourceGroup  string
	accountName    string
	deploymentName string
	modelName      string
	modelVersion   string
	modelFormat    string
	skuName        string
	location       string
	capacityFlag   int
	capacityVar    string
	webhookURL     string
	definitionPath string
	sourceName     string
	redisAddr      string
	serve          bool
	listenAddr     string
)

func main() {
	flag.StringVar(&action, "action", "", "Intended action: create, update or delete.")
	flag.StringVar(&subscriptionID, "subscription", os.Getenv("SUBSCRIPTION_ID"), "Subscription the account lives in.")
	flag.StringVar(&resourceGroup, "resource-group", "", "Resource group of the account.")
	flag.StringVar(&accountName, "account", "", "Account hosting the deployment.")
	flag.StringVar(&deploymentName, "deployment", "", "Deployment name; must start with the model name.")
	flag.StringVar(&modelName, "model", "", "Model name.")
	flag.StringVar(&modelVersion, "model-version", "", "Model version.")
	flag.StringVar(&modelFormat, "model-format", "OpenAI", "Model format.")
	flag.StringVar(&skuName, "sku", "ProvisionedManaged", "Capacity SKU.")
	flag.StringVar(&location, "location", "", "Region for availability checks; blank skips them.")
	flag.IntVar(&capacityFlag, "capacity", 0, "Explicit target capacity in PTUs; 0 defers to the fallback chain.")
	flag.StringVar(&capacityVar, "capacity-variable", "", "Variable holding a calculated capacity.")
	flag.StringVar(&webhookURL, "webhook-url", "", "Alert webhook target.")
	flag.StringVar(&definitionPath, "resources", "", "Path to the resource definition YAML.")
	flag.StringVar(&sourceName, "source", "ptu-reconciler", "Operation name stamped on alerts.")
	flag.StringVar(&redisAddr, "redis-address", "", "Redis address for the shared variable store; blank uses the environment.")
	flag.BoolVar(&serve, "serve", false, "Serve reconcile requests over HTTP instead of running one action.")
	flag.StringVar(&listenAddr, "listen-address", ":8080", "Address the HTTP trigger and metrics endpoints bind to.")
	klog.InitFlags(flag.CommandLine)
	defer klog.Flush()
	flag.Parse()

	var definition *config.Definition
	if definitionPath != "" {
		var err error
		definition, err = config.LoadDefinition(definitionPath)
		if err != nil {
			klog.ErrorS(err, "Failed to load resource definition")
			os.Exit(1)
		}
	}

	var vars config.VariableStore = config.EnvStore{}
	if redisAddr != "" {
		vars = config.NewRedisStore(redis.NewClient(&redis.Options{Addr: redisAddr}), "ptu:vars:")
	}

	client := cloud.New(cloud.Config{
		SubscriptionID: subscriptionID,
		Token:          tokenSource(),
	})

	r := reconciler.New(client, vars, alert.New(), retry.NewExecutor(), reconciler.Options{
		Source:     sourceName,
		WebhookURL: webhookURL,
		Definition: definition,
		Policy:     retry.DefaultPolicy(),
	})

	if serve {
		runServer(r)
		return
	}

	params := types.TriggerParams{
		SubscriptionID:   subscriptionID,
		ResourceGroup:    resourceGroup,
		AccountName:      accountName,
		DeploymentName:   deploymentName,
		ModelName:        modelName,
		ModelVersion:     modelVersion,
		ModelFormat:      modelFormat,
		SKUName:          skuName,
		Location:         location,
		Capacity:         int32(capacityFlag),
		CapacityVariable: capacityVar,
		WebhookURL:       webhookURL,
	}
	if definition != nil {
		if params.ResourceGroup == "" {
			params.ResourceGroup = definition.ResourceGroupName
		}
		if params.AccountName == "" {
			params.AccountName = definition.AccountName
		}
	}

	if err := r.Reconcile(context.Background(), reconciler.Action(action), params); err != nil {
		klog.ErrorS(err, "Reconciliation failed", "action", action, "deployment", deploymentName)
		os.Exit(1)
	}
	klog.InfoS("Reconciliation finished", "action", action, "deployment", deploymentName)
}

// tokenSource prefers a pre-acquired token from the environment and falls
// back to the platform's managed identity endpoint.
func tokenSource() cloud.TokenSource {
	if t := os.Getenv("ARM_ACCESS_TOKEN"); t != "" {
		return cloud.StaticTokenSource(t)
	}
	return cloud.ManagedIdentityTokenSource("https://management.azure.com/")
}

// reconcileRequest is the HTTP trigger payload.
type reconcileRequest struct {
	Action string              `json:"action"`
	Params types.TriggerParams `json:"params"`
}

func runServer(r *reconciler.Reconciler) {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	router.HandleFunc("/v1/reconcile", func(w http.ResponseWriter, req *http.Request) {
		var body reconcileRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if body.Params.SubscriptionID == "" {
			body.Params.SubscriptionID = subscriptionID
		}
		if err := r.Reconcile(req.Context(), reconciler.Action(body.Action), body.Params); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("reconciled"))
	}).Methods(http.MethodPost)

	klog.InfoS("Serving reconcile trigger", "address", listenAddr)
	if err := http.ListenAndServe(listenAddr, router); err != nil {
		klog.ErrorS(err, "HTTP server exited")
		os.Exit(1)
	}
}
