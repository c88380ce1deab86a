package grpcdispatch

import (
	"fmt"
	"strings"

	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

// ServicesFromDescriptorSet builds service definitions from a serialized
// descriptor set (e.g. the output of protoc --descriptor_set_out), filtered
// by package name. See [ServicesFromFiles].
func ServicesFromDescriptorSet(fds *descriptorpb.FileDescriptorSet, pkg string) ([]ServiceDefinition, error) {
	files, err := protodesc.NewFiles(fds)
	if err != nil {
		return nil, fmt.Errorf("grpcdispatch: invalid descriptor set: %w", err)
	}
	return ServicesFromFiles(files, pkg)
}

// ServicesFromFiles builds service definitions for every service registered
// in files whose fully-qualified name is within pkg (an empty pkg matches
// everything). Method names are normalized to lowerCamelCase with the
// original wire name preserved in [MethodDescriptor.OriginalName], and the
// request/response message descriptors are populated.
//
// Returns an error if pkg contains no services: a requested package that is
// missing or empty is fatal at startup, unlike individual methods without
// handlers (which bind to nothing, silently).
func ServicesFromFiles(files *protoregistry.Files, pkg string) ([]ServiceDefinition, error) {
	root, err := NamespaceFromFiles(files, pkg)
	if err != nil {
		return nil, err
	}
	return DiscoverServices(root), nil
}

// NamespaceFromFiles builds the dotted namespace tree for every service
// registered in files within pkg. Returns an error if pkg contains no
// services.
func NamespaceFromFiles(files *protoregistry.Files, pkg string) (Namespace, error) {
	root := Namespace{}
	var found bool
	files.RangeFiles(func(fd protoreflect.FileDescriptor) bool {
		services := fd.Services()
		for i := 0; i < services.Len(); i++ {
			sd := services.Get(i)
			if !inPackage(string(sd.FullName()), pkg) {
				continue
			}
			found = true
			insertService(root, strings.Split(string(sd.FullName()), "."), definitionFromDescriptor(sd))
		}
		return true
	})
	if !found {
		return nil, fmt.Errorf("grpcdispatch: no services found for package %q", pkg)
	}
	return root, nil
}

func inPackage(fullName, pkg string) bool {
	if pkg == "" {
		return true
	}
	return fullName == pkg || strings.HasPrefix(fullName, pkg+".")
}

func insertService(root Namespace, path []string, def ServiceDefinition) {
	ns := root
	for _, part := range path[:len(path)-1] {
		child, ok := ns[part].(Namespace)
		if !ok {
			child = Namespace{}
			ns[part] = child
		}
		ns = child
	}
	ns[path[len(path)-1]] = def
}

func definitionFromDescriptor(sd protoreflect.ServiceDescriptor) ServiceDefinition {
	methods := sd.Methods()
	def := ServiceDefinition{
		Name:    string(sd.FullName()),
		Methods: make(map[string]MethodDescriptor, methods.Len()),
	}
	for i := 0; i < methods.Len(); i++ {
		md := methods.Get(i)
		name := lowerFirst(string(md.Name()))
		def.Methods[name] = MethodDescriptor{
			Name:              name,
			OriginalName:      string(md.Name()),
			Input:             md.Input(),
			Output:            md.Output(),
			RequestStreaming:  md.IsStreamingClient(),
			ResponseStreaming: md.IsStreamingServer(),
		}
	}
	return def
}

// lowerFirst returns s with its first character lowercased. This converts
// PascalCase proto method names (e.g. "SayHello") to the lowerCamelCase
// names handlers are conventionally registered under (e.g. "sayHello").
func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
