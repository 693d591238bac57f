package server

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"unicode"
	"unicode/utf8"
)

type methodType struct {
	method    reflect.Method
	withCtx   bool
	ArgType   reflect.Type
	ReplyType reflect.Type
}

type service struct {
	prefix string
	rcvr   reflect.Value
	typ    reflect.Type
	method map[string]*methodType
}

// newService 创建 service 并扫描所有合法方法
func newService(prefix string, rcvr any) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("server: rcvr must be a pointer, got %v", typ)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("server: rcvr must point to a struct, got %s", typ.Elem().Kind())
	}
	srv := &service{
		prefix: prefix,
		rcvr:   reflect.ValueOf(rcvr),
		typ:    typ,
		method: make(map[string]*methodType),
	}
	srv.registerMethods()
	if len(srv.method) == 0 {
		return nil, fmt.Errorf("server: %s has no exported RPC methods", typ.Elem().Name())
	}
	return srv, nil
}

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// registerMethods 扫描 struct 的导出方法，过滤出符合 RPC 签名的:
//
//	func (T) M(args *A, reply *R) error
//	func (T) M(ctx context.Context, args *A, reply *R) error
func (s *service) registerMethods() {
	for i := 0; i < s.typ.NumMethod(); i++ {
		method := s.typ.Method(i)
		mt := method.Type
		if mt.NumOut() != 1 || mt.Out(0) != errorType {
			continue
		}
		first := 1
		withCtx := false
		switch mt.NumIn() {
		case 3:
		case 4:
			if mt.In(1) != contextType {
				continue
			}
			first, withCtx = 2, true
		default:
			continue
		}
		if mt.In(first).Kind() != reflect.Ptr || mt.In(first+1).Kind() != reflect.Ptr {
			continue
		}
		s.method[s.prefix+lowerFirst(method.Name)] = &methodType{
			method:    method,
			withCtx:   withCtx,
			ArgType:   mt.In(first).Elem(),
			ReplyType: mt.In(first + 1).Elem(),
		}
	}
}

// handler adapts one reflected method to the Handler signature.
func (s *service) handler(mType *methodType) Handler {
	return func(ctx context.Context, args json.RawMessage) (any, error) {
		argv := reflect.New(mType.ArgType)
		replyv := reflect.New(mType.ReplyType)
		if len(args) > 0 && string(args) != "null" {
			if err := json.Unmarshal(args, argv.Interface()); err != nil {
				return nil, fmt.Errorf("bad arguments: %w", err)
			}
		}
		if err := s.call(ctx, mType, argv, replyv); err != nil {
			return nil, err
		}
		return replyv.Interface(), nil
	}
}

// call 通过反射调用方法
func (s *service) call(ctx context.Context, mType *methodType, argv, replyv reflect.Value) error {
	in := []reflect.Value{s.rcvr, argv, replyv}
	if mType.withCtx {
		in = []reflect.Value{s.rcvr, reflect.ValueOf(ctx), argv, replyv}
	}
	results := mType.method.Func.Call(in)
	if !results[0].IsNil() {
		return results[0].Interface().(error)
	}
	return nil
}

func lowerFirst(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	return string(unicode.ToLower(r)) + s[n:]
}
